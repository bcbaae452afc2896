package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kinfkong/mongo-service/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedErr string

func (e codedErr) Error() string     { return string(e) }
func (e codedErr) ErrorCode() string { return string(e) }

func echo(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
	reply := &eventbus.Message{Body: append([]byte("echo:"), msg.Body...)}
	reply.SetHeader("action", msg.Header("action"))
	return reply, nil
}

func TestMemory_RequestReply(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	_, err := bus.Consume("svc", echo)
	require.NoError(t, err)

	req := &eventbus.Message{Address: "svc", Body: []byte("hi")}
	req.SetHeader("action", "save")

	reply, err := bus.Request(testContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply.Body))
	assert.Equal(t, "save", reply.Header("action"))
	assert.Empty(t, req.Header(eventbus.HeaderRequestID), "caller message must not be mutated")
}

func TestMemory_NoHandlers(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	_, err := bus.Request(testContext(t), &eventbus.Message{Address: "nobody"})
	assert.ErrorIs(t, err, eventbus.ErrNoHandlers)
}

func TestMemory_HandlerErrorBecomesReplyError(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	sentinel := codedErr("mongoservice.unknown_action")
	_, err := bus.Consume("svc", func(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
		return nil, sentinel
	})
	require.NoError(t, err)

	_, err = bus.Request(testContext(t), &eventbus.Message{Address: "svc"})
	require.Error(t, err)

	var re *eventbus.ReplyError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "mongoservice.unknown_action", re.Code)
	assert.ErrorIs(t, err, sentinel)
}

func TestMemory_PlainErrorKeepsMessage(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	_, err := bus.Consume("svc", func(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
		return nil, errors.New("E11000 duplicate key")
	})
	require.NoError(t, err)

	_, err = bus.Request(testContext(t), &eventbus.Message{Address: "svc"})
	require.Error(t, err)
	assert.Equal(t, "E11000 duplicate key", err.Error())
}

func TestMemory_RoundRobin(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	var mu sync.Mutex
	hits := map[string]int{}
	consumer := func(name string) eventbus.Handler {
		return func(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			return &eventbus.Message{}, nil
		}
	}

	_, err := bus.Consume("svc", consumer("a"))
	require.NoError(t, err)
	_, err = bus.Consume("svc", consumer("b"))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := bus.Request(testContext(t), &eventbus.Message{Address: "svc"})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, hits["a"])
	assert.Equal(t, 5, hits["b"])
}

func TestMemory_Unsubscribe(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	sub, err := bus.Consume("svc", echo)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	_, err = bus.Request(testContext(t), &eventbus.Message{Address: "svc"})
	assert.ErrorIs(t, err, eventbus.ErrNoHandlers)
}

func TestMemory_ContextTimeout(t *testing.T) {
	bus := eventbus.NewMemory()
	defer bus.Close()

	release := make(chan struct{})
	defer close(release)
	_, err := bus.Consume("slow", func(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
		<-release
		return &eventbus.Message{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(testContext(t), 20*time.Millisecond)
	defer cancel()

	_, err = bus.Request(ctx, &eventbus.Message{Address: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_Closed(t *testing.T) {
	bus := eventbus.NewMemory()
	require.NoError(t, bus.Close())

	_, err := bus.Consume("svc", echo)
	assert.ErrorIs(t, err, eventbus.ErrClosed)

	_, err = bus.Request(testContext(t), &eventbus.Message{Address: "svc"})
	assert.ErrorIs(t, err, eventbus.ErrClosed)
}

func TestReplyError_Error(t *testing.T) {
	assert.Equal(t, "boom", (&eventbus.ReplyError{Message: "boom"}).Error())
	assert.Equal(t, "code", (&eventbus.ReplyError{Code: "code"}).Error())
	assert.Equal(t, "code: boom", (&eventbus.ReplyError{Code: "code", Message: "boom"}).Error())
	assert.Nil(t, eventbus.NewReplyError(nil))
}
