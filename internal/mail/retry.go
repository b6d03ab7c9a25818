package mail

import (
	"context"
	"log/slog"
	"time"
)

// Стратегии задержки между попытками.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy — политика повторных попыток отправки.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int

	// Backoff — стратегия задержки: fixed, exponential.
	Backoff string

	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryingSender повторяет отправку при ошибке relay.
// После исчерпания попыток возвращает последнюю ошибку.
type RetryingSender struct {
	next   Sender
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewRetryingSender оборачивает Sender.
func NewRetryingSender(next Sender, policy RetryPolicy, logger *slog.Logger) *RetryingSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingSender{
		next:   next,
		policy: policy,
		sleep:  sleepCtx,
		logger: logger,
	}
}

// Send реализует Sender.
func (s *RetryingSender) Send(ctx context.Context, msg *Message) error {
	maxAttempts := s.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.next.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			break
		}

		delay := s.policy.Delay(attempt)
		s.logger.Warn("sending mail failed, retrying",
			"to", msg.To,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if serr := s.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// Delay вычисляет задержку перед попыткой attempt+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	initialDelay := p.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initialDelay
	if p.Backoff == BackoffExponential {
		// initialDelay * 2^(attempt-1)
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
