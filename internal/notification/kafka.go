package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka transport
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// messageWriter is the subset of kafka.Writer the transport uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport publishes delivery messages to a topic consumed by the
// channel workers. Messages are keyed by notification id so every channel
// of one notification lands on the same partition.
type KafkaTransport struct {
	writer messageWriter
	log    *zap.SugaredLogger
	mu     sync.Mutex
	closed bool
}

// NewKafkaTransport creates a synchronous Kafka writer
func NewKafkaTransport(cfg KafkaConfig, log *zap.SugaredLogger) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: false,
	}

	log.Infow("kafka delivery transport created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
	)
	return &KafkaTransport{writer: writer, log: log}, nil
}

func (t *KafkaTransport) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("kafka transport is closed")
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery message: %w", err)
	}

	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.NotificationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(msg.Channel)},
			{Key: "level", Value: []byte(fmt.Sprintf("%d", msg.Level))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write delivery message: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.writer.Close()
}
