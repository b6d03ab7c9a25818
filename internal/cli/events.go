package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/rpd-pipelines/internal/mq"
)

// Events — подключение к RabbitMQ для публикации событий run.
type Events struct {
	Conn      *mq.Connection
	Publisher *mq.Publisher
}

// ConnectEvents подключается к RABBITMQ_URL и объявляет топологию.
// Если переменная не задана, возвращает nil: события не публикуются.
func ConnectEvents(ctx context.Context, name string, logger *slog.Logger) (*Events, error) {
	url := mq.URLFromEnv()
	if url == "" {
		logger.Debug("RABBITMQ_URL not set, run events disabled")
		return nil, nil
	}

	conn, err := mq.NewConnection(url, name, logger)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}

	return &Events{
		Conn:      conn,
		Publisher: mq.NewPublisher(conn, logger),
	}, nil
}

// Close закрывает соединение. Безопасно вызывать на nil.
func (e *Events) Close() error {
	if e == nil {
		return nil
	}
	return e.Conn.Close()
}
