package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes notifications as JSON events keyed by destination.
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
}

// NewKafkaNotifier builds a notifier over writer. topic may be empty when the
// writer has a fixed topic.
func NewKafkaNotifier(writer MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, topic: topic}
}

// Send implements Notifier.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(message.Destination),
		Value: payload,
		Time:  message.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(message.Kind)},
		},
	}
	if n.topic != "" {
		msg.Topic = n.topic
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
