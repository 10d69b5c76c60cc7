package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeInstances Exchange = "gateflow.instances"
	ExchangeNodes     Exchange = "gateflow.nodes"
	ExchangeDLQ       Exchange = "gateflow.dlq"
)

// Queues — имена очередей.
const (
	QueueInstancesPending   Queue = "instances.pending"
	QueueInstancesCancelled Queue = "instances.cancelled"
	QueueNodesReady         Queue = "nodes.ready"
	QueueNodesCompleted     Queue = "nodes.completed"
	QueueNodesRetry         Queue = "nodes.retry"
	QueueBranchesDied       Queue = "branches.died"
	QueueDLQNodes           Queue = "dlq.nodes"
)

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCancelled RoutingKey = "cancelled"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyRetry     RoutingKey = "retry"
	RoutingKeyDied      RoutingKey = "died"
	RoutingKeyDLQNodes  RoutingKey = "nodes"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeInstances, "direct"},
		{ExchangeNodes, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQNodes),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// instances.pending — без DLQ (инстансы обрабатываются один раз)
		{QueueInstancesPending, nil},

		// instances.cancelled — без DLQ (отмена идемпотентна)
		{QueueInstancesCancelled, nil},

		// nodes.ready — с DLQ (узлы могут уходить в DLQ после retry)
		{QueueNodesReady, dlqArgs},

		// nodes.completed — без DLQ (события завершения)
		{QueueNodesCompleted, nil},

		// nodes.retry — без DLQ (операторские запросы)
		{QueueNodesRetry, nil},

		// branches.died — без DLQ (уведомления о смерти ветвей)
		{QueueBranchesDied, nil},

		// dlq.nodes — сама DLQ очередь
		{QueueDLQNodes, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueInstancesPending, RoutingKeyPending, ExchangeInstances},
		{QueueInstancesCancelled, RoutingKeyCancelled, ExchangeInstances},
		{QueueNodesReady, RoutingKeyReady, ExchangeNodes},
		{QueueNodesCompleted, RoutingKeyCompleted, ExchangeNodes},
		{QueueNodesRetry, RoutingKeyRetry, ExchangeNodes},
		{QueueBranchesDied, RoutingKeyDied, ExchangeNodes},
		{QueueDLQNodes, RoutingKeyDLQNodes, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Gateflow RabbitMQ Topology:

    gateflow.instances (direct)
    ├── instances.pending [routing: pending]
    │       Consumer: Engine
    └── instances.cancelled [routing: cancelled]
            Consumer: Engine

    gateflow.nodes (direct)
    ├── nodes.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: dlq.nodes
    ├── nodes.completed [routing: completed]
    │       Consumer: Engine
    ├── nodes.retry [routing: retry]
    │       Consumer: Engine
    └── branches.died [routing: died]
            Consumer: Engine

    gateflow.dlq (direct)
    └── dlq.nodes [routing: nodes]
            Manual processing
  `
}
