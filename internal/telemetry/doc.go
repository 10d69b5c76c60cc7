// Package telemetry обеспечивает наблюдаемость engine и worker.
//
// Включает:
//   - logging.go — structured logging через slog (LOG_LEVEL, LOG_FORMAT)
//   - metrics.go — Prometheus счётчики под namespace "gateflow":
//     переходы, завершения шлюзов по типу, stale-прибытия, смерти веток,
//     выполненные узлы, завершённые инстансы
//
// Метрики экспортируются сервисами на /metrics endpoint.
package telemetry
