// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - instance.pending — новый инстанс процесса ожидает запуска
//   - node.ready       — узел готов к выполнению
//   - node.completed   — узел завершён (COMPLETED или FAILED)
//   - branch.died      — ветвь процесса мертва (для inclusive-шлюзов)
//
// Exchanges:
//   - gateflow.instances — события инстансов процессов
//   - gateflow.nodes     — события узлов
//   - gateflow.dlq       — dead letter queue
package mq
