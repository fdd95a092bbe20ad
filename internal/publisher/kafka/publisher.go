// Package kafka publishes JSON payloads to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config locates the brokers and default topic.
type Config struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Publisher wraps a kafka-go writer.
type Publisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// New creates a Publisher writing to cfg.Brokers.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	return newWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}, cfg.Topic), nil
}

func newWithWriter(writer messageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic, now: func() time.Time { return time.Now().UTC() }}
}

// Publish writes payload as JSON. Payloads exposing Key() string are keyed so
// the same ad always lands on the same partition; attributes become headers.
// An empty topic falls back to the configured one.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if topic == "" {
		topic = p.topic
	}
	msg := kafka.Message{Topic: topic, Value: value, Time: p.now()}
	if k, ok := payload.(interface{ Key() string }); ok {
		msg.Key = []byte(k.Key())
	}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		for name, v := range a.Attributes() {
			msg.Headers = append(msg.Headers, kafka.Header{Key: name, Value: []byte(v)})
		}
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return fmt.Sprintf("%s/%s", topic, msg.Key), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
