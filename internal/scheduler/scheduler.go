package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job — одна итерация периодической работы.
type Job func(ctx context.Context) error

// Locker — межпроцессная блокировка на время одного тика.
type Locker interface {
	// TryLock пытается взять блокировку, не ожидая её.
	TryLock(ctx context.Context) (bool, error)

	// Unlock освобождает блокировку.
	Unlock(ctx context.Context) error
}

// Config — конфигурация Scheduler.
type Config struct {
	Name       string
	Spec       string
	Job        Job
	Locker     Locker // опционально
	RunOnStart bool   // выполнить job сразу, не дожидаясь первого тика

	// Fatal решает, останавливает ли ошибка job'а планировщик.
	// Nil — любая ошибка фатальна.
	Fatal func(err error) bool

	Logger *slog.Logger
}

// Scheduler запускает Job по cron-выражению.
type Scheduler struct {
	name       string
	spec       string
	job        Job
	locker     Locker
	runOnStart bool
	isFatal    func(err error) bool
	logger     *slog.Logger

	failed atomic.Bool
	fatal  chan error
}

// New создаёт Scheduler и проверяет cron-выражение.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Job == nil {
		return nil, ErrNoJob
	}
	if err := ValidateSpec(cfg.Spec); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		name:       cfg.Name,
		spec:       cfg.Spec,
		job:        cfg.Job,
		locker:     cfg.Locker,
		runOnStart: cfg.RunOnStart,
		isFatal:    cfg.Fatal,
		logger:     logger.With("job", cfg.Name),
		fatal:      make(chan error, 1),
	}, nil
}

// Run блокируется до отмены ctx или до фатальной ошибки job'а.
// В обоих случаях ждёт завершения текущего тика. Возвращает фатальную
// ошибку или nil при отмене.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSpec, s.spec, err)
	}

	if s.runOnStart {
		s.Tick(ctx)
		if s.failed.Load() {
			err := <-s.fatal
			s.logger.Error("fatal job error, stopping scheduler", "error", err)
			return err
		}
	}

	c.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "next", c.Entries()[0].Next)

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("scheduler stopping, waiting for running job")
	case err = <-s.fatal:
		s.logger.Error("fatal job error, stopping scheduler", "error", err)
	}

	<-c.Stop().Done()
	return err
}

// Tick выполняет одну итерацию: берёт блокировку (если настроена),
// запускает job и логирует результат. Фатальная ошибка job'а
// останавливает Run; после неё тики больше не выполняются.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if ctx.Err() != nil || s.failed.Load() {
		return false
	}

	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Error("lock failed", "error", err)
			return false
		}
		if !ok {
			s.logger.Debug("lock held by another instance, skipping tick")
			return false
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("unlock failed", "error", err)
			}
		}()
	}

	started := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("job failed", "error", err, "duration", time.Since(started))
		if s.isFatal == nil || s.isFatal(err) {
			if s.failed.CompareAndSwap(false, true) {
				s.fatal <- err
			}
		}
		return true
	}

	s.logger.Info("job completed", "duration", time.Since(started))
	return true
}

// cronLogger адаптирует slog к cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
