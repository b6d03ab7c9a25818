// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - events.go     — события жизненного цикла run
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - run.dispatched       — pipeline отправлен в планировщик
//   - run.dispatch_failed  — команда pipeline завершилась с ошибкой
//   - run.staged           — результаты run выгружены
//   - run.stage_out_failed — worker выгрузки завершился с ошибкой
//
// Exchanges:
//   - rpd.runs — события runs
//   - rpd.dlq  — dead letter queue
package mq
