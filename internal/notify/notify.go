// Package notify превращает события жизненного цикла run в письма
// пользователям.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/rpd-pipelines/internal/mail"
	"github.com/shaiso/rpd-pipelines/internal/mq"
)

// Notifier — обработчик очереди runs.events.
type Notifier struct {
	composer *mail.Composer
	sender   mail.Sender
	logger   *slog.Logger
}

// New создаёт Notifier.
func New(composer *mail.Composer, sender mail.Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		composer: composer,
		sender:   sender,
		logger:   logger,
	}
}

// Handle реализует mq.Handler. Ошибка отправки письма возвращается
// вызывающему, и сообщение уходит в DLQ.
func (n *Notifier) Handle(ctx context.Context, msg *mq.Message) error {
	event, err := mq.ParsePayload[mq.RunEvent](msg)
	if err != nil {
		return fmt.Errorf("parse run event: %w", err)
	}

	logger := n.logger.With("type", msg.Type, "outdir", event.OutDir)

	status, ok := StatusFor(msg.Type, event)
	if !ok {
		logger.Debug("no notification for event")
		return nil
	}

	m := n.composer.ComposeStatus(status)
	if err := n.sender.Send(ctx, m); err != nil {
		logger.Error("sending mail failed", "to", m.To, "error", err)
		return err
	}

	logger.Info("notification sent", "to", m.To, "subject", m.Subject)
	return nil
}

// StatusFor возвращает параметры письма для события.
// false — событие не требует уведомления.
func StatusFor(t mq.MessageType, e mq.RunEvent) (mail.Status, bool) {
	st := mail.Status{
		User:            e.Requestor,
		PipelineName:    e.PipelineName,
		PipelineVersion: e.PipelineVersion,
		AnalysisID:      e.AnalysisID,
		OutDir:          e.OutDir,
	}
	if st.AnalysisID == "" {
		st.AnalysisID = e.RecordID.String()
	}

	switch t {
	case mq.MessageTypeRunStaged:
		st.Success = true
	case mq.MessageTypeRunDispatchFailed:
		st.ExtraText = "Starting the pipeline failed: " + e.Error
	case mq.MessageTypeRunStageOutFailed:
		st.ExtraText = "Staging out of results failed: " + e.Error
	default:
		return mail.Status{}, false
	}
	return st, true
}
