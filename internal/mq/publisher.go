package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Reelforge/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobSubmitted   MessageType = "job.submitted"
	MessageTypeJobCancelled   MessageType = "job.cancelled"
	MessageTypeStageReady     MessageType = "stage.ready"
	MessageTypeStageCompleted MessageType = "stage.completed"
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

// JobSubmittedPayload — payload для сообщения о новом job.
type JobSubmittedPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// JobCancelledPayload — payload для сигнала отмены job.
type JobCancelledPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// StageReadyPayload — payload для сообщения о готовом stage.
type StageReadyPayload struct {
	StageID uuid.UUID `json:"stage_id"`
	JobID   uuid.UUID `json:"job_id"`
}

// StageCompletedPayload — payload для сообщения о завершённом stage.
//
// Несёт только итог попытки: промежуточные transient-ошибки
// в очередь не публикуются. Тройка (JobID, StageID, Attempt) —
// ключ идемпотентности: повторная доставка не имеет эффекта.
type StageCompletedPayload struct {
	StageID   uuid.UUID          `json:"stage_id"`
	JobID     uuid.UUID          `json:"job_id"`
	Type      domain.StageType   `json:"type"`
	Status    domain.StageStatus `json:"status"` // SUCCEEDED или FAILED_PERMANENT
	OutputRef string             `json:"output_ref,omitempty"`
	ErrorKind domain.ErrorKind   `json:"error_kind,omitempty"`
	Error     string             `json:"error,omitempty"`
	Attempt   int                `json:"attempt"`
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

// PublishJobSubmitted публикует событие о новом job, ожидающем обработки.
// Потребитель: Orchestrator.
func (p *Publisher) PublishJobSubmitted(ctx context.Context, jobID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobSubmitted,
		Payload:   JobSubmittedPayload{JobID: jobID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeySubmitted, msg)
}

// PublishJobCancelled публикует сигнал отмены job.
// Потребитель: Orchestrator.
func (p *Publisher) PublishJobCancelled(ctx context.Context, jobID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobCancelled,
		Payload:   JobCancelledPayload{JobID: jobID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeyCancelled, msg)
}

// PublishStageReady публикует событие о stage, готовом к выполнению.
// Потребитель: Worker.
func (p *Publisher) PublishStageReady(ctx context.Context, stageID, jobID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStageReady,
		Payload:   StageReadyPayload{StageID: stageID, JobID: jobID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeStages, RoutingKeyReady, msg)
}

// PublishStageCompleted публикует итог выполнения stage.
// Потребитель: Orchestrator.
func (p *Publisher) PublishStageCompleted(ctx context.Context, payload StageCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStageCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeStages, RoutingKeyCompleted, msg)
}
