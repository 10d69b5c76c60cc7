package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeInstancePending   MessageType = "instance.pending"
	MessageTypeInstanceCancelled MessageType = "instance.cancelled"
	MessageTypeNodeReady         MessageType = "node.ready"
	MessageTypeNodeCompleted     MessageType = "node.completed"
	MessageTypeNodeRetry         MessageType = "node.retry"
	MessageTypeBranchDied        MessageType = "branch.died"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// InstancePendingPayload — payload для сообщения о новом инстансе процесса.
type InstancePendingPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

// NodeReadyPayload — payload для сообщения об узле, готовом к выполнению.
type NodeReadyPayload struct {
	NodeID     uuid.UUID `json:"node_id"`
	InstanceID uuid.UUID `json:"instance_id"`
}

// NodeCompletedPayload — payload для сообщения о завершённом узле.
type NodeCompletedPayload struct {
	NodeID       uuid.UUID `json:"node_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	Status       string    `json:"status"` // COMPLETED или FAILED
	Error        string    `json:"error,omitempty"`
	Attempt      int       `json:"attempt"`

	// Outputs — выходные переменные выполнения (уже сохранены в БД;
	// дублируются в событии для синхронизации in-memory state engine).
	Outputs map[string]any `json:"outputs,omitempty"`
}

// InstanceCancelledPayload — payload для уведомления об отмене инстанса.
type InstanceCancelledPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

// NodeRetryPayload — payload для запроса retry упавшего узла.
type NodeRetryPayload struct {
	NodeID     uuid.UUID `json:"node_id"`
	InstanceID uuid.UUID `json:"instance_id"`

	// Variables — исправленные переменные инстанса: сливаются
	// в контекст перед повторным выполнением.
	Variables map[string]any `json:"variables,omitempty"`
}

// BranchDiedPayload — payload для уведомления о смерти ветви.
type BranchDiedPayload struct {
	NodeID       uuid.UUID `json:"node_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	DefinitionID string    `json:"definition_id"`
	Reason       string    `json:"reason,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishInstancePending публикует событие о новом инстансе, ожидающем запуска.
// Потребитель: Engine.
func (p *Publisher) PublishInstancePending(ctx context.Context, instanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstancePending,
		Payload:   InstancePendingPayload{InstanceID: instanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyPending, msg)
}

// PublishInstanceCancelled публикует уведомление об отмене инстанса.
// Потребитель: Engine (гасит живые токены и закрывает слияния).
func (p *Publisher) PublishInstanceCancelled(ctx context.Context, instanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceCancelled,
		Payload:   InstanceCancelledPayload{InstanceID: instanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyCancelled, msg)
}

// PublishNodeReady публикует событие об узле, готовом к выполнению.
// Потребитель: Worker.
func (p *Publisher) PublishNodeReady(ctx context.Context, nodeID, instanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeNodeReady,
		Payload:   NodeReadyPayload{NodeID: nodeID, InstanceID: instanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeNodes, RoutingKeyReady, msg)
}

// PublishNodeCompleted публикует событие о завершённом узле.
// Потребитель: Engine.
func (p *Publisher) PublishNodeCompleted(ctx context.Context, payload NodeCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeNodeCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeNodes, RoutingKeyCompleted, msg)
}

// PublishNodeRetry публикует запрос на повторный запуск упавшего узла.
// Потребитель: Engine (синхронизирует своё состояние и выдаёт узел worker'у).
func (p *Publisher) PublishNodeRetry(ctx context.Context, payload NodeRetryPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeNodeRetry,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeNodes, RoutingKeyRetry, msg)
}

// PublishBranchDied публикует уведомление о смерти ветви.
// Потребитель: Engine.
func (p *Publisher) PublishBranchDied(ctx context.Context, payload BranchDiedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBranchDied,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeNodes, RoutingKeyDied, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
