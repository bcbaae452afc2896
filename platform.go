package mongoservice

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kinfkong/mongo-service/eventbus"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// Platform is the hosting runtime shared by services: it owns the event bus,
// the worker pool running blocking database work, the logger and metrics.
// Platform is safe for concurrent use.
type Platform struct {
	bus     eventbus.Bus
	ownsBus bool
	logger  *slog.Logger
	workers *semaphore.Weighted
	metrics *serviceMetrics

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// PlatformOption configures NewPlatform.
type PlatformOption func(*Platform)

// WithEventBus uses bus instead of a private in-memory bus. The platform
// does not close a bus it was given.
func WithEventBus(bus eventbus.Bus) PlatformOption {
	return func(p *Platform) {
		p.bus = bus
		p.ownsBus = false
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PlatformOption {
	return func(p *Platform) { p.logger = logger }
}

// WithWorkerPoolSize bounds the number of operations running at once.
func WithWorkerPoolSize(n int) PlatformOption {
	return func(p *Platform) {
		if n > 0 {
			p.workers = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMetrics registers operation metrics on reg.
func WithMetrics(reg prometheus.Registerer) PlatformOption {
	return func(p *Platform) { p.metrics = newServiceMetrics(reg) }
}

// NewPlatform returns a platform with an in-memory event bus, the default
// slog logger and a worker pool sized to 4×GOMAXPROCS.
func NewPlatform(opts ...PlatformOption) *Platform {
	p := &Platform{
		bus:     eventbus.NewMemory(),
		ownsBus: true,
		logger:  slog.Default(),
		workers: semaphore.NewWeighted(int64(4 * runtime.GOMAXPROCS(0))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EventBus returns the platform's event bus.
func (p *Platform) EventBus() eventbus.Bus { return p.bus }

// Logger returns the platform's logger.
func (p *Platform) Logger() *slog.Logger { return p.logger }

// Close waits for in-flight operations, then closes the event bus if the
// platform created it. Operations submitted afterwards fail with ErrStopped.
// Handlers run after their operation has left the in-flight set, so a
// handler may call Close; it can still be running when Close returns.
func (p *Platform) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()
	if p.ownsBus {
		return p.bus.Close()
	}
	return nil
}

// execute runs work on the worker pool and hands its outcome to h. It
// returns immediately; h is invoked from the worker goroutine.
func execute[T any](p *Platform, ctx context.Context, op string, work func(context.Context) (T, error), h Handler[T]) {
	started := spawn(p, func() AsyncResult[T] {
		if err := p.workers.Acquire(ctx, 1); err != nil {
			p.metrics.observe(op, err, 0)
			return Failed[T](err)
		}
		start := time.Now()
		v, err := work(ctx)
		p.workers.Release(1)

		elapsed := time.Since(start)
		p.metrics.observe(op, err, elapsed)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, context.Canceled) {
				level = slog.LevelDebug
			}
			p.logger.Log(ctx, level, "mongo operation failed", "operation", op, "duration_ms", elapsed.Milliseconds(), "error", err)
			return Failed[T](err)
		}
		p.logger.Debug("mongo operation", "operation", op, "duration_ms", elapsed.Milliseconds())
		return Succeeded(v)
	}, h)
	if !started {
		deliver(h, Failed[T](ErrStopped))
	}
}

// spawn runs fn on a goroutine that Close waits for and then hands its
// result to h outside of it. It reports false, without running fn, once the
// platform is closed.
func spawn[T any](p *Platform, fn func() AsyncResult[T], h Handler[T]) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		var r AsyncResult[T]
		func() {
			defer p.inflight.Done()
			r = fn()
		}()
		deliver(h, r)
	}()
	return true
}
