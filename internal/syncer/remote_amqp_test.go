package syncer

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeConfirm bool

func (c fakeConfirm) WaitContext(context.Context) (bool, error) { return bool(c), nil }

type fakeSession struct {
	closed     bool
	nack       bool
	publishErr error
	published  []string
}

func (s *fakeSession) Publish(_ context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	if s.publishErr != nil {
		return nil, s.publishErr
	}
	s.published = append(s.published, queue+"/"+msg.MessageId)
	return fakeConfirm(!s.nack), nil
}

func (s *fakeSession) Closed() bool { return s.closed }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func TestAMQPRemoteRedialsClosedSession(t *testing.T) {
	var sessions []*fakeSession
	remote := newAMQPRemote("offline_transactions", func() (amqpSession, error) {
		s := &fakeSession{}
		sessions = append(sessions, s)
		return s, nil
	})
	ctx := context.Background()

	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-1"}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-2"}); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if len(sessions) != 1 || len(sessions[0].published) != 2 {
		t.Fatalf("a live session should be reused, dials=%d", len(sessions))
	}

	// Broker restart.
	sessions[0].closed = true
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-3"}); err != nil {
		t.Fatalf("push after restart: %v", err)
	}
	if len(sessions) != 2 || len(sessions[1].published) != 1 || sessions[1].published[0] != "offline_transactions/INV-3" {
		t.Fatalf("expected a fresh session to carry INV-3, dials=%d", len(sessions))
	}

	// A publish that finds the channel closed drops the session for the next push.
	sessions[1].publishErr = amqp.ErrClosed
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-4"}); err == nil {
		t.Fatal("expected publish error")
	}
	if err := remote.Push(ctx, Payload{InvoiceNumber: "INV-4"}); err != nil {
		t.Fatalf("retry after closed channel: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("dials = %d, want 3", len(sessions))
	}

	if err := remote.Close(); err != nil || !sessions[2].closed {
		t.Fatalf("close: %v", err)
	}
}

func TestAMQPRemoteFailures(t *testing.T) {
	tests := []struct {
		name string
		dial func() (amqpSession, error)
	}{
		{"broker down", func() (amqpSession, error) { return nil, errors.New("connection refused") }},
		{"nack", func() (amqpSession, error) { return &fakeSession{nack: true}, nil }},
		{"publish error", func() (amqpSession, error) { return &fakeSession{publishErr: errors.New("frame too large")}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newAMQPRemote("q", tt.dial)
			if err := remote.Push(context.Background(), Payload{InvoiceNumber: "INV-1"}); err == nil {
				t.Fatal("expected push to fail")
			}
		})
	}
}
