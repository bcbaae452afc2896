// Package binding exposes a mongoservice.MongoService to embedded script
// runtimes.
//
// Scripts pass loosely typed values: strings, generic objects
// (map[string]interface{} or an ordered primitive.D, nil included) and
// callbacks of the form func(result interface{}, err error). Every operation
// checks its arguments against one fixed shape and fails with ErrInvalidArgs,
// before the wrapped service is touched, when they do not match. Valid calls return the adapter
// itself; the outcome arrives later through the callback, either as
// (value, nil) or as (nil, cause).
package binding

import (
	"context"

	mongoservice "github.com/kinfkong/mongo-service"
)

// Callback receives the outcome of one asynchronous operation.
type Callback func(result interface{}, err error)

// ErrInvalidArgs is returned when a call's arguments do not match the
// operation's shape.
var ErrInvalidArgs = mongoservice.ErrInvalidArgs

// MongoService adapts a mongoservice.MongoService to script calling
// conventions.
type MongoService struct {
	delegate mongoservice.MongoService
	ctx      context.Context
}

// New wraps delegate.
func New(delegate mongoservice.MongoService) *MongoService {
	return &MongoService{delegate: delegate, ctx: context.Background()}
}

// WithContext returns an adapter on the same service whose calls use ctx.
func (m *MongoService) WithContext(ctx context.Context) *MongoService {
	return &MongoService{delegate: m.delegate, ctx: ctx}
}

// Delegate returns the wrapped service.
func (m *MongoService) Delegate() mongoservice.MongoService { return m.delegate }

// Create builds a driver-backed service: (platform, config).
func Create(args ...interface{}) (*MongoService, error) {
	if !match(args, argPlatform, argObject) {
		return nil, ErrInvalidArgs
	}
	svc, err := mongoservice.Create(args[0].(*mongoservice.Platform), document(args[1]))
	if err != nil {
		return nil, err
	}
	return New(svc), nil
}

// CreateEventBusProxy builds a proxy to the service at an event-bus
// address: (platform, address).
func CreateEventBusProxy(args ...interface{}) (*MongoService, error) {
	if !match(args, argPlatform, argString) {
		return nil, ErrInvalidArgs
	}
	return New(mongoservice.CreateEventBusProxy(args[0].(*mongoservice.Platform), args[1].(string))), nil
}

// Save: (collection, document, callback). The callback receives the
// generated id, or nil when the document had one.
func (m *MongoService) Save(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Save(m.ctx, args[0].(string), document(args[1]), idResult(callback(args[2])))
	return m, nil
}

// SaveWithOptions: (collection, document, writeOption, callback).
func (m *MongoService) SaveWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	wo, err := writeOption(args[2])
	if err != nil {
		return nil, err
	}
	m.delegate.SaveWithOptions(m.ctx, args[0].(string), document(args[1]), wo, idResult(callback(args[3])))
	return m, nil
}

// Insert: (collection, document, callback).
func (m *MongoService) Insert(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Insert(m.ctx, args[0].(string), document(args[1]), idResult(callback(args[2])))
	return m, nil
}

// InsertWithOptions: (collection, document, writeOption, callback).
func (m *MongoService) InsertWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	wo, err := writeOption(args[2])
	if err != nil {
		return nil, err
	}
	m.delegate.InsertWithOptions(m.ctx, args[0].(string), document(args[1]), wo, idResult(callback(args[3])))
	return m, nil
}

// Update: (collection, query, update, callback).
func (m *MongoService) Update(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Update(m.ctx, args[0].(string), document(args[1]), document(args[2]), voidResult(callback(args[3])))
	return m, nil
}

// UpdateWithOptions: (collection, query, update, options, callback).
func (m *MongoService) UpdateWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	opts, err := updateOptions(args[3])
	if err != nil {
		return nil, err
	}
	m.delegate.UpdateWithOptions(m.ctx, args[0].(string), document(args[1]), document(args[2]), opts, voidResult(callback(args[4])))
	return m, nil
}

// Replace: (collection, query, replacement, callback).
func (m *MongoService) Replace(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Replace(m.ctx, args[0].(string), document(args[1]), document(args[2]), voidResult(callback(args[3])))
	return m, nil
}

// ReplaceWithOptions: (collection, query, replacement, options, callback).
func (m *MongoService) ReplaceWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	opts, err := updateOptions(args[3])
	if err != nil {
		return nil, err
	}
	m.delegate.ReplaceWithOptions(m.ctx, args[0].(string), document(args[1]), document(args[2]), opts, voidResult(callback(args[4])))
	return m, nil
}

// Find: (collection, query, callback). The callback receives a list of
// objects.
func (m *MongoService) Find(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Find(m.ctx, args[0].(string), document(args[1]), documentsResult(callback(args[2])))
	return m, nil
}

// FindWithOptions: (collection, query, options, callback).
func (m *MongoService) FindWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	opts, err := findOptions(args[2])
	if err != nil {
		return nil, err
	}
	m.delegate.FindWithOptions(m.ctx, args[0].(string), document(args[1]), opts, documentsResult(callback(args[3])))
	return m, nil
}

// FindOne: (collection, query, fields, callback). The callback receives the
// object, or nil when nothing matched.
func (m *MongoService) FindOne(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.FindOne(m.ctx, args[0].(string), document(args[1]), document(args[2]), documentResult(callback(args[3])))
	return m, nil
}

// Count: (collection, query, callback).
func (m *MongoService) Count(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Count(m.ctx, args[0].(string), document(args[1]), countResult(callback(args[2])))
	return m, nil
}

// Remove: (collection, query, callback).
func (m *MongoService) Remove(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.Remove(m.ctx, args[0].(string), document(args[1]), voidResult(callback(args[2])))
	return m, nil
}

// RemoveWithOptions: (collection, query, writeOption, callback).
func (m *MongoService) RemoveWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	wo, err := writeOption(args[2])
	if err != nil {
		return nil, err
	}
	m.delegate.RemoveWithOptions(m.ctx, args[0].(string), document(args[1]), wo, voidResult(callback(args[3])))
	return m, nil
}

// RemoveOne: (collection, query, callback).
func (m *MongoService) RemoveOne(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.RemoveOne(m.ctx, args[0].(string), document(args[1]), voidResult(callback(args[2])))
	return m, nil
}

// RemoveOneWithOptions: (collection, query, writeOption, callback).
func (m *MongoService) RemoveOneWithOptions(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argObject, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	wo, err := writeOption(args[2])
	if err != nil {
		return nil, err
	}
	m.delegate.RemoveOneWithOptions(m.ctx, args[0].(string), document(args[1]), wo, voidResult(callback(args[3])))
	return m, nil
}

// CreateCollection: (name, callback).
func (m *MongoService) CreateCollection(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.CreateCollection(m.ctx, args[0].(string), voidResult(callback(args[1])))
	return m, nil
}

// GetCollections: (callback). The callback receives a list of names.
func (m *MongoService) GetCollections(args ...interface{}) (*MongoService, error) {
	if !match(args, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.GetCollections(m.ctx, namesResult(callback(args[0])))
	return m, nil
}

// DropCollection: (collection, callback).
func (m *MongoService) DropCollection(args ...interface{}) (*MongoService, error) {
	if !match(args, argString, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.DropCollection(m.ctx, args[0].(string), voidResult(callback(args[1])))
	return m, nil
}

// RunCommand: (command, callback). An ordered command (primitive.D) is sent
// as given; a generic object leads with its command name.
func (m *MongoService) RunCommand(args ...interface{}) (*MongoService, error) {
	if !match(args, argObject, argFunction) {
		return nil, ErrInvalidArgs
	}
	m.delegate.RunCommand(m.ctx, command(args[0]), documentResult(callback(args[1])))
	return m, nil
}

// Start takes no arguments.
func (m *MongoService) Start(args ...interface{}) error {
	if len(args) != 0 {
		return ErrInvalidArgs
	}
	return m.delegate.Start(m.ctx)
}

// Stop takes no arguments.
func (m *MongoService) Stop(args ...interface{}) error {
	if len(args) != 0 {
		return ErrInvalidArgs
	}
	return m.delegate.Stop(m.ctx)
}
