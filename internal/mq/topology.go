package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeRuns Exchange = "rpd.runs"
	ExchangeDLQ  Exchange = "rpd.dlq"
)

// Queues.
const (
	QueueRunEvents Queue = "runs.events"
	QueueDLQRuns   Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyDispatched     RoutingKey = "dispatched"
	RoutingKeyDispatchFailed RoutingKey = "dispatch_failed"
	RoutingKeyStaged         RoutingKey = "staged"
	RoutingKeyStageOutFailed RoutingKey = "stage_out_failed"
	RoutingKeyDLQRuns        RoutingKey = "runs"
)

// EventRoutingKeys — ключи, по которым runs.events получает события.
var EventRoutingKeys = []RoutingKey{
	RoutingKeyDispatched,
	RoutingKeyDispatchFailed,
	RoutingKeyStaged,
	RoutingKeyStageOutFailed,
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		// Сообщения, отклонённые обработчиком, уходят в dlq.runs.
		eventArgs := amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}

		queues := []struct {
			name Queue
			args amqp.Table
		}{
			{QueueRunEvents, eventArgs},
			{QueueDLQRuns, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, key := range EventRoutingKeys {
			if err := ch.QueueBind(string(QueueRunEvents), string(key), string(ExchangeRuns), false, nil); err != nil {
				return fmt.Errorf("bind %s to %s/%s: %w", QueueRunEvents, ExchangeRuns, key, err)
			}
		}
		if err := ch.QueueBind(string(QueueDLQRuns), string(RoutingKeyDLQRuns), string(ExchangeDLQ), false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", QueueDLQRuns, ExchangeDLQ, err)
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  rpd RabbitMQ topology:

    rpd.runs (direct)
    └── runs.events [routing: dispatched, dispatch_failed, staged, stage_out_failed]
            Consumer: downstream-notify
            DLQ: dlq.runs

    rpd.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
