package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Bus. Requests are delivered to consumers of the
// address in round-robin order; handlers run on their own goroutine.
type Memory struct {
	mu       sync.Mutex
	handlers map[string][]*memorySubscription
	next     map[string]int
	closed   bool
}

var _ Bus = (*Memory)(nil)

// NewMemory returns an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{
		handlers: make(map[string][]*memorySubscription),
		next:     make(map[string]int),
	}
}

type memorySubscription struct {
	bus     *Memory
	address string
	handler Handler
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() { s.bus.remove(s) })
	return nil
}

// Consume registers h for address.
func (b *Memory) Consume(address string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{bus: b, address: address, handler: h}
	b.handlers[address] = append(b.handlers[address], sub)
	return sub, nil
}

func (b *Memory) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.address]
	for i, s := range subs {
		if s == sub {
			b.handlers[sub.address] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.address]) == 0 {
		delete(b.handlers, sub.address)
		delete(b.next, sub.address)
	}
}

func (b *Memory) pick(address string) (Handler, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	subs := b.handlers[address]
	if len(subs) == 0 {
		return nil, ErrNoHandlers
	}
	i := b.next[address] % len(subs)
	b.next[address] = i + 1
	return subs[i].handler, nil
}

// Request delivers msg to one consumer and waits for its reply or ctx.
func (b *Memory) Request(ctx context.Context, msg *Message) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, err := b.pick(msg.Address)
	if err != nil {
		return nil, err
	}

	// Consumers get their own copy so neither side observes the other's mutations.
	req := &Message{
		Address: msg.Address,
		Headers: cloneHeaders(msg.Headers),
		Body:    append([]byte(nil), msg.Body...),
	}
	if req.Header(HeaderRequestID) == "" {
		req.SetHeader(HeaderRequestID, uuid.NewString())
	}

	type result struct {
		reply *Message
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := h(ctx, req)
		done <- result{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, NewReplyError(res.err)
		}
		if res.reply == nil {
			res.reply = &Message{}
		}
		if err := replyFailure(res.reply); err != nil {
			return nil, err
		}
		return res.reply, nil
	}
}

// Close drops every consumer. Pending requests still receive their replies.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handlers = make(map[string][]*memorySubscription)
	b.next = make(map[string]int)
	return nil
}
