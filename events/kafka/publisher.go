/*
Package kafka publishes ledger events to Kafka.

PURPOSE:
  Implements ledger.Publisher over a kafka-go writer. Events are
  emitted after commit and are advisory: downstream consumers (GL
  exports, notifications, analytics) must tolerate at-least-once
  delivery and use the entry ID to deduplicate. A publish failure is
  logged by the engine and never rolls back the posting.
*/
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes JSON-encoded events to Kafka topics.
type Publisher struct {
	writer *kafka.Writer

	// Timeout bounds a single publish. Defaults to 10s.
	Timeout time.Duration
}

// NewPublisher builds a publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		Timeout: 10 * time.Second,
	}
}

// Publish marshals the event and writes it to topic.
func (p *Publisher) Publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
