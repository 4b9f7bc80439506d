package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookwell/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits every lifecycle event to a topic so downstream
// services (reminders, analytics) can react. Messages are keyed by
// appointment id to keep per-appointment ordering.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
}

func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "booking.appointment.events.v1"
	}
	return &KafkaPublisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(kafkax.SplitBrokers(brokers)...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

type eventEnvelope struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	TenantID   string            `json:"tenant_id"`
	OccurredAt string            `json:"occurred_at"`
	Data       map[string]string `json:"data"`
}

func EventType(kind string) string {
	return "booking.appointment." + kind + ".v1"
}

func (p *KafkaPublisher) Notify(ctx context.Context, _ Contact, msg Message) (DeliveryResult, error) {
	eventID := uuid.NewString()
	eventType := EventType(string(msg.Kind))
	raw, err := json.Marshal(eventEnvelope{
		EventID:    eventID,
		EventType:  eventType,
		TenantID:   msg.TenantID,
		OccurredAt: msg.OccurredAt.UTC().Format(time.RFC3339),
		Data:       msg.Data,
	})
	if err != nil {
		return DeliveryResult{}, &DeliveryError{Channel: "kafka", Recipient: p.topic, Err: err}
	}
	headers := kafkax.InjectTraceHeaders(ctx, kafkax.EventHeaders(eventID, eventType, msg.TenantID))
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.AppointmentID),
		Value:   raw,
		Headers: headers,
	}); err != nil {
		return DeliveryResult{}, &DeliveryError{Channel: "kafka", Recipient: p.topic, Err: err}
	}
	return DeliveryResult{Channel: "kafka", ProviderID: eventID}, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
