// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Starter и stage-out scanner — batch-процессы, поэтому метрики
// экспортируются в textfile для node_exporter, а в режиме --schedule
// дополнительно отдаются на /metrics.
package telemetry
