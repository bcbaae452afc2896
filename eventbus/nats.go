package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures DialNATS.
type NATSConfig struct {
	URL            string
	Name           string
	ConnTimeout    time.Duration
	MaxReconnects  int
	HandlerTimeout time.Duration
}

// NATS is a Bus over NATS request/reply. Consumers of one address form a
// queue group named after the address, so each request reaches one of them.
type NATS struct {
	nc             *nats.Conn
	owned          bool
	handlerTimeout time.Duration
	logger         *slog.Logger
}

var _ Bus = (*NATS)(nil)

// NewNATS wraps an existing connection. Close does not close nc.
func NewNATS(nc *nats.Conn, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{nc: nc, logger: logger, handlerTimeout: 30 * time.Second}
}

// DialNATS connects to cfg.URL and returns a bus owning the connection.
func DialNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("eventbus: nats url required")
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats connect: %w", err)
	}

	b := NewNATS(nc, logger)
	b.owned = true
	if cfg.HandlerTimeout > 0 {
		b.handlerTimeout = cfg.HandlerTimeout
	}
	return b, nil
}

// Request publishes msg with a reply inbox and waits for the answer.
func (b *NATS) Request(ctx context.Context, msg *Message) (*Message, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}

	out := nats.NewMsg(msg.Address)
	out.Data = msg.Body
	for k, v := range msg.Headers {
		out.Header.Set(k, v)
	}
	if out.Header.Get(HeaderRequestID) == "" {
		out.Header.Set(HeaderRequestID, uuid.NewString())
	}

	in, err := b.nc.RequestMsgWithContext(ctx, out)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoHandlers
		}
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	reply := fromNATS(in)
	if err := replyFailure(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Consume subscribes h to address within the address queue group.
func (b *NATS) Consume(address string, h Handler) (Subscription, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}

	sub, err := b.nc.QueueSubscribe(address, address, func(in *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
		defer cancel()

		reply, err := h(ctx, fromNATS(in))
		if err != nil {
			reply = failureReply(err)
		}
		if reply == nil {
			reply = &Message{}
		}
		if in.Reply == "" {
			return
		}

		out := nats.NewMsg(in.Reply)
		out.Data = reply.Body
		for k, v := range reply.Headers {
			out.Header.Set(k, v)
		}
		if rerr := in.RespondMsg(out); rerr != nil {
			b.logger.Warn("eventbus: nats respond failed", "address", address, "error", rerr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: nats subscribe %s: %w", address, err)
	}
	return sub, nil
}

// Close drains the connection when the bus owns it.
func (b *NATS) Close() error {
	if !b.owned || b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

func fromNATS(in *nats.Msg) *Message {
	m := &Message{Address: in.Subject, Body: in.Data}
	for k := range in.Header {
		m.SetHeader(k, in.Header.Get(k))
	}
	return m
}
