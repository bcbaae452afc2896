package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// directReplyTo is RabbitMQ's pseudo-queue for RPC replies without a
// declared callback queue.
const directReplyTo = "amq.rabbitmq.reply-to"

// AMQPConfig configures DialAMQP.
type AMQPConfig struct {
	URL            string
	ConnTimeout    time.Duration
	HandlerTimeout time.Duration
}

// AMQP is a Bus over RabbitMQ. Each address is a non-durable queue on the
// default exchange; requests are published with a correlation id and answered
// through direct reply-to.
type AMQP struct {
	conn           *amqp.Connection
	handlerTimeout time.Duration
	logger         *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	mu      sync.Mutex
	pending map[string]chan amqpReply
	closed  bool
}

var _ Bus = (*AMQP)(nil)

type amqpReply struct {
	msg *Message
	err error
}

// DialAMQP connects to cfg.URL and starts the reply dispatcher.
func DialAMQP(cfg AMQPConfig, logger *slog.Logger) (*AMQP, error) {
	if cfg.URL == "" {
		return nil, errors.New("eventbus: amqp url required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "mongo-service"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: amqp channel: %w", err)
	}

	// Direct reply-to requires consuming on the publishing channel in no-ack mode.
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: amqp reply consumer: %w", err)
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))

	b := &AMQP{
		conn:           conn,
		pubCh:          ch,
		logger:         logger,
		handlerTimeout: 30 * time.Second,
		pending:        make(map[string]chan amqpReply),
	}
	if cfg.HandlerTimeout > 0 {
		b.handlerTimeout = cfg.HandlerTimeout
	}

	go b.dispatch(replies, returns)
	return b, nil
}

func (b *AMQP) dispatch(replies <-chan amqp.Delivery, returns <-chan amqp.Return) {
	for replies != nil || returns != nil {
		select {
		case d, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			msg := &Message{Address: d.RoutingKey, Headers: fromTable(d.Headers), Body: d.Body}
			b.deliver(d.CorrelationId, amqpReply{msg: msg})
		case r, ok := <-returns:
			if !ok {
				returns = nil
				continue
			}
			// Unroutable mandatory publish: nobody consumes the address.
			b.deliver(r.CorrelationId, amqpReply{err: ErrNoHandlers})
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		ch <- amqpReply{err: ErrClosed}
		delete(b.pending, id)
	}
}

func (b *AMQP) deliver(correlationID string, r amqpReply) {
	b.mu.Lock()
	ch, ok := b.pending[correlationID]
	delete(b.pending, correlationID)
	b.mu.Unlock()

	if ok {
		ch <- r
	}
}

// Request publishes msg to the address queue and waits for the correlated reply.
func (b *AMQP) Request(ctx context.Context, msg *Message) (*Message, error) {
	id := uuid.NewString()
	wait := make(chan amqpReply, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[id] = wait
	b.mu.Unlock()

	headers := toTable(msg.Headers)
	if _, ok := headers[HeaderRequestID]; !ok {
		headers[HeaderRequestID] = id
	}

	b.pubMu.Lock()
	err := b.pubCh.PublishWithContext(ctx, "", msg.Address, true, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: id,
		ReplyTo:       directReplyTo,
		Headers:       headers,
		Body:          msg.Body,
	})
	b.pubMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("eventbus: amqp publish %s: %w", msg.Address, err)
	}

	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, ctx.Err()
	case r := <-wait:
		if r.err != nil {
			return nil, r.err
		}
		if err := replyFailure(r.msg); err != nil {
			return nil, err
		}
		return r.msg, nil
	}
}

type amqpSubscription struct {
	ch  *amqp.Channel
	tag string
}

func (s *amqpSubscription) Unsubscribe() error {
	if err := s.ch.Cancel(s.tag, false); err != nil {
		_ = s.ch.Close()
		return err
	}
	return s.ch.Close()
}

// Consume declares the address queue and serves requests from it on a
// dedicated channel.
func (b *AMQP) Consume(address string, h Handler) (Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("eventbus: amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(address, false, true, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("eventbus: amqp declare %s: %w", address, err)
	}

	tag := "mongo-service-" + uuid.NewString()
	deliveries, err := ch.Consume(address, tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("eventbus: amqp consume %s: %w", address, err)
	}

	go b.serve(ch, address, deliveries, h)
	return &amqpSubscription{ch: ch, tag: tag}, nil
}

func (b *AMQP) serve(ch *amqp.Channel, address string, deliveries <-chan amqp.Delivery, h Handler) {
	for d := range deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
		req := &Message{Address: address, Headers: fromTable(d.Headers), Body: d.Body}

		reply, err := h(ctx, req)
		if err != nil {
			reply = failureReply(err)
		}
		if reply == nil {
			reply = &Message{}
		}

		if d.ReplyTo != "" {
			perr := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
				ContentType:   "application/json",
				CorrelationId: d.CorrelationId,
				Headers:       toTable(reply.Headers),
				Body:          reply.Body,
			})
			if perr != nil {
				b.logger.Warn("eventbus: amqp reply failed", "address", address, "error", perr)
			}
		}
		cancel()

		if err := d.Ack(false); err != nil {
			b.logger.Warn("eventbus: amqp ack failed", "address", address, "error", err)
		}
	}
}

// Close closes the connection; pending requests fail with ErrClosed.
func (b *AMQP) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.conn.Close()
}

func toTable(h map[string]string) amqp.Table {
	t := amqp.Table{}
	for k, v := range h {
		t[k] = v
	}
	return t
}

func fromTable(t amqp.Table) map[string]string {
	if len(t) == 0 {
		return nil
	}
	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
		} else {
			h[k] = fmt.Sprint(v)
		}
	}
	return h
}
