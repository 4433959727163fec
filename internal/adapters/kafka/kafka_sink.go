package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/ghalamif/AegisRT/internal/ports"
)

const DefaultTopic = "rt-telemetry"

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Sink produces one message per summary, keyed by device so a device's
// telemetry stays ordered within its partition.
type Sink struct {
	w messageWriter
}

func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Sink{w: NewWriter(cfg.Brokers, cfg.Topic)}, nil
}

func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Publish(ctx context.Context, out *ports.Outbound) error {
	msg := kafkago.Message{
		Key:   []byte(out.DeviceID),
		Value: out.Payload,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "mode", Value: []byte(out.Summary.Mode.String())},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.w.Close()
}

var _ ports.TelemetrySink = (*Sink)(nil)
