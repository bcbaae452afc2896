// mongo_session.go - Client lifecycle of the driver-backed service

package mongoservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// disconnectTimeout bounds Stop when the caller's context has no deadline.
const disconnectTimeout = 10 * time.Second

// mongoService is the MongoService backed by the official driver.
type mongoService struct {
	platform *Platform
	cfg      *Config

	mu      sync.Mutex
	client  *mongodrv.Client
	stopped bool
}

var _ MongoService = (*mongoService)(nil)

func newMongoService(platform *Platform, cfg *Config) *mongoService {
	return &mongoService{platform: platform, cfg: cfg}
}

// Start connects the client. Calling it on a started service is a no-op; a
// stopped service reconnects.
func (s *mongoService) Start(ctx context.Context) error {
	_, err := s.connect(ctx, true)
	return err
}

// Stop disconnects the client. Operations issued afterwards fail with
// ErrStopped until the next Start.
func (s *mongoService) Stop(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.stopped = true
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.platform.logger.Info("mongo service stopped", "db", s.cfg.DBName)
	return nil
}

// connect returns the client, dialing it on first use. Only Start may
// revive a stopped service.
func (s *mongoService) connect(ctx context.Context, start bool) (*mongodrv.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.stopped && !start {
		return nil, ErrStopped
	}

	client, err := mongodrv.Connect(ctx, s.cfg.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.client = client
	s.stopped = false
	s.platform.logger.Info("mongo service started", "db", s.cfg.DBName)
	return client, nil
}

func (s *mongoService) database(ctx context.Context) (*mongodrv.Database, error) {
	client, err := s.connect(ctx, false)
	if err != nil {
		return nil, err
	}
	return client.Database(s.cfg.DBName), nil
}

// collection returns a collection handle using writeOption, or the client's
// write concern when writeOption is empty.
func (s *mongoService) collection(ctx context.Context, name string, writeOption WriteOption) (*mongodrv.Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	if writeOption != "" {
		if _, err := ParseWriteOption(string(writeOption)); err != nil {
			return nil, err
		}
	}
	db, err := s.database(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.Collection()
	if wc := writeOption.writeConcern(); wc != nil {
		opts.SetWriteConcern(wc)
	}
	return db.Collection(name, opts), nil
}

// withTimeout applies the configured per-operation timeout.
func (s *mongoService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}
