package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notifications to a topic keyed by ticket id, so a ticket's
// notifications stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish sends the notifications in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, notifications ...Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(notifications))
	for _, n := range notifications {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.TenantID + ":" + n.TicketID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(n.EventType)},
				{Key: "tenant_id", Value: []byte(n.TenantID)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write notifications: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
