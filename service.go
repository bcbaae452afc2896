// Package mongoservice is a MongoDB access service with asynchronous,
// handler-based operations.
//
// Every operation returns immediately; the work runs on the platform's worker
// pool and the outcome is handed to the supplied Handler as an AsyncResult.
// Operations return the service itself so calls can be chained.
//
//	platform := mongoservice.NewPlatform()
//	svc, err := mongoservice.Create(platform, mongoservice.Document{
//	    "connection_string": "mongodb://localhost:27017",
//	    "db_name":           "shop",
//	})
//	...
//	svc.Insert(ctx, "users", mongoservice.Document{"name": "ada"}, func(r mongoservice.AsyncResult[string]) {
//	    if r.Failed() {
//	        ...
//	    }
//	})
//
// CreateEventBusProxy returns a service with the same interface whose calls
// travel over the platform's event bus to a service registered with
// RegisterService.
package mongoservice

import "context"

// MongoService is the contract shared by the driver-backed service and the
// event-bus proxy.
type MongoService interface {
	// Save inserts document, or replaces the stored document with the same
	// _id. The handler receives the generated id, or "" when document
	// already had one.
	Save(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService
	SaveWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService

	// Insert inserts document. The handler receives the generated id, or ""
	// when document already had one.
	Insert(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService
	InsertWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService

	// Update applies update to documents matching query.
	Update(ctx context.Context, collection string, query, update Document, resultHandler Handler[Void]) MongoService
	UpdateWithOptions(ctx context.Context, collection string, query, update Document, options *UpdateOptions, resultHandler Handler[Void]) MongoService

	// Replace replaces the first document matching query.
	Replace(ctx context.Context, collection string, query, replace Document, resultHandler Handler[Void]) MongoService
	ReplaceWithOptions(ctx context.Context, collection string, query, replace Document, options *UpdateOptions, resultHandler Handler[Void]) MongoService

	Find(ctx context.Context, collection string, query Document, resultHandler Handler[[]Document]) MongoService
	FindWithOptions(ctx context.Context, collection string, query Document, options *FindOptions, resultHandler Handler[[]Document]) MongoService

	// FindOne yields the first matching document restricted to fields, or
	// nil when nothing matches.
	FindOne(ctx context.Context, collection string, query, fields Document, resultHandler Handler[Document]) MongoService

	Count(ctx context.Context, collection string, query Document, resultHandler Handler[int64]) MongoService

	// Remove deletes every matching document; RemoveOne only the first.
	Remove(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService
	RemoveWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService
	RemoveOne(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService
	RemoveOneWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService

	CreateCollection(ctx context.Context, collectionName string, resultHandler Handler[Void]) MongoService
	GetCollections(ctx context.Context, resultHandler Handler[[]string]) MongoService
	DropCollection(ctx context.Context, collection string, resultHandler Handler[Void]) MongoService

	// RunCommand runs a database command and yields its reply document.
	RunCommand(ctx context.Context, command Command, resultHandler Handler[Document]) MongoService

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Create returns a driver-backed service configured from config. The
// connection is established by Start, or lazily by the first operation.
func Create(platform *Platform, config Document) (MongoService, error) {
	if platform == nil {
		return nil, ErrInvalidArgs
	}
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	if len(cfg.IgnoredKeys) > 0 {
		platform.logger.Warn("ignoring unknown mongo config keys", "keys", cfg.IgnoredKeys)
	}
	return newMongoService(platform, cfg), nil
}

// CreateEventBusProxy returns a service that forwards every call to the
// service registered at address on the platform's event bus.
func CreateEventBusProxy(platform *Platform, address string) MongoService {
	if platform == nil {
		return nil
	}
	return newEventBusProxy(platform, address)
}
