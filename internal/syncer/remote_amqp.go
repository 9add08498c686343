package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPRemote publishes payloads to a durable queue with publisher confirms.
// A push succeeds only once the broker has acked the message; consumers
// dedupe on MessageId, which carries the invoice number.
//
// A closed connection or channel is replaced on the next push, so a broker
// restart costs the attempts made while it was down and nothing more.
type AMQPRemote struct {
	mu    sync.Mutex
	dial  func() (amqpSession, error)
	sess  amqpSession
	queue string
}

// amqpSession is one connection with a confirm-mode channel.
type amqpSession interface {
	Publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error)
	Closed() bool
	Close() error
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// DialAMQP connects once up front so a bad URL fails at startup.
func DialAMQP(url, queue string) (*AMQPRemote, error) {
	r := newAMQPRemote(queue, func() (amqpSession, error) {
		sess, err := dialSession(url, queue)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	if _, err := r.session(); err != nil {
		return nil, err
	}
	return r, nil
}

func newAMQPRemote(queue string, dial func() (amqpSession, error)) *AMQPRemote {
	return &AMQPRemote{dial: dial, queue: queue}
}

func (r *AMQPRemote) Push(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload %s: %w", p.InvoiceNumber, err)
	}

	// A channel is not safe for concurrent publishes.
	r.mu.Lock()
	sess, err := r.session()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	confirm, err := sess.Publish(ctx, r.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    p.InvoiceNumber,
		Type:         "offline_transaction",
		Body:         body,
	})
	if err != nil && (errors.Is(err, amqp.ErrClosed) || sess.Closed()) {
		r.drop()
	}
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.InvoiceNumber, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", p.InvoiceNumber, err)
	}
	if !acked {
		return errors.New("broker nacked " + p.InvoiceNumber)
	}
	return nil
}

// session returns the live session, dialing a new one when the last was
// closed. Callers hold r.mu.
func (r *AMQPRemote) session() (amqpSession, error) {
	if r.sess != nil && !r.sess.Closed() {
		return r.sess, nil
	}
	r.drop()
	sess, err := r.dial()
	if err != nil {
		return nil, err
	}
	r.sess = sess
	return sess, nil
}

func (r *AMQPRemote) drop() {
	if r.sess != nil {
		_ = r.sess.Close()
		r.sess = nil
	}
}

func (r *AMQPRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	err := r.sess.Close()
	r.sess = nil
	return err
}

type channelSession struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan *amqp.Error
}

func dialSession(url, queue string) (*channelSession, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	// The library closes this channel when the AMQP channel or its
	// connection goes away.
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	return &channelSession{conn: conn, ch: ch, closed: closed}, nil
}

func (s *channelSession) Publish(ctx context.Context, queue string, msg amqp.Publishing) (confirmation, error) {
	confirm, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return nil, err
	}
	return confirm, nil
}

func (s *channelSession) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *channelSession) Close() error {
	if !s.Closed() {
		_ = s.ch.Close()
	}
	return s.conn.Close()
}
