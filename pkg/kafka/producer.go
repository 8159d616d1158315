// Package kafka publishes booking lifecycle events for downstream consumers
// (the chat layer, audit tooling). Delivery is best effort from the booking
// engine's point of view: failures are logged by the caller, never surfaced
// to the user whose booking already committed.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"roomview/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

type Producer struct {
	writer *kafka.Writer
	source string
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic, source string, log *logger.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // hash by booking id keeps per-booking ordering
		RequiredAcks: kafka.RequireAll,
		Compression:  compress.Snappy,
		Logger:       kafka.LoggerFunc(func(msg string, args ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Error(fmt.Sprintf("kafka: "+msg, args...))
		}),
	}

	log.Info("Kafka producer initialized", "topic", topic, "brokers", len(brokers))
	return &Producer{
		writer: writer,
		source: source,
	}, nil
}

// Publish sends one event keyed by the booking id.
func (p *Producer) Publish(ctx context.Context, eventType, key string, payload any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("producer is closed")
	}

	msg, err := buildMessage(p.source, eventType, key, payload)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
