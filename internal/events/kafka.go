package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/nainya/cfgstore/internal/metrics"
)

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaTransport struct {
	w     messageWriter
	topic string
}

func (k *kafkaTransport) Name() string { return "kafka" }

func (k *kafkaTransport) Send(ctx context.Context, key string, body []byte) error {
	msg := kafka.Message{Topic: k.topic, Key: []byte(key), Value: body}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (k *kafkaTransport) Close() error {
	return k.w.Close()
}

// NewKafkaPublisher publishes events to topic. Messages are keyed by setting
// identity and hashed to partitions.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger, m *metrics.Metrics) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(&kafkaTransport{w: w, topic: topic}, log, m, 0)
}
