package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw)

	err := p.Publish(context.Background(), Event{
		Type: InvoiceCreated,
		Key:  "INV-20250101-ABCDEF012345",
		At:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Data: map[string]string{"total_usd": "12.50"},
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "INV-20250101-ABCDEF012345" {
		t.Errorf("key = %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != InvoiceCreated {
		t.Errorf("headers = %+v", msg.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Type != InvoiceCreated {
		t.Errorf("value did not decode: %v %+v", err, decoded)
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: boom})
	if err := p.Publish(context.Background(), Event{Type: DeliveryStatusChanged}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}
