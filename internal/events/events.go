// Package events publishes domain events for downstream consumers such as
// reporting and low-stock alerting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

const (
	InvoiceCreated        = "invoice.created"
	DeliveryStatusChanged = "delivery.status_changed"
	ConsignmentMovement   = "consignment.movement"
)

type Event struct {
	Type string    `json:"type"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of the segmentio writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher writes to topic on the comma-separated brokers.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	addrs := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	w := &skafka.Writer{
		Addr:         skafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish keys the message by e.Key so events for one invoice or order stay
// on one partition.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Type, err)
	}
	msg := skafka.Message{
		Key:   []byte(e.Key),
		Value: b,
		Headers: []skafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
