// Package events 把领域事件以 JSON 信封的形式投递到 RabbitMQ
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

const Queue = "shift_events"

type Envelope struct {
	ID         uuid.UUID        `json:"id"`
	Type       domain.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurredAt"`
	Payload    json.RawMessage  `json:"payload"`
}

func Encode(e domain.Event) ([]byte, uuid.UUID, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, uuid.Nil, err
	}
	id := uuid.New()
	body, err := json.Marshal(Envelope{
		ID:         id,
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
		Payload:    payload,
	})
	if err != nil {
		return nil, uuid.Nil, err
	}
	return body, id, nil
}

func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DeclareQueue 声明持久化的事件队列，发布方和消费方启动时都会调用
func DeclareQueue(ch *amqp.Channel) (amqp.Queue, error) {
	return ch.QueueDeclare(
		Queue, // 队列名称
		true,  // 是否持久化
		false, // 是否自动删除
		false, // 是否独占
		false, // 是否不等待
		nil,   // 额外参数
	)
}

type Publisher struct {
	ch      *amqp.Channel
	timeout time.Duration
}

func NewPublisher(ch *amqp.Channel, timeout time.Duration) *Publisher {
	return &Publisher{ch: ch, timeout: timeout}
}

func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	body, id, err := Encode(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.ch.PublishWithContext(
		ctx,
		"",
		Queue,
		true,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    id.String(),
			Type:         string(e.Type),
			Timestamp:    e.OccurredAt,
			Body:         body,
		},
	)
}
