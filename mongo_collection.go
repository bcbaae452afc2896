// mongo_collection.go - Document operations of the driver-backed service

package mongoservice

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Operation names as they appear in logs, metrics and proxy messages.
const (
	opSave                 = "save"
	opSaveWithOptions      = "saveWithOptions"
	opInsert               = "insert"
	opInsertWithOptions    = "insertWithOptions"
	opUpdate               = "update"
	opUpdateWithOptions    = "updateWithOptions"
	opReplace              = "replace"
	opReplaceWithOptions   = "replaceWithOptions"
	opFind                 = "find"
	opFindWithOptions      = "findWithOptions"
	opFindOne              = "findOne"
	opCount                = "count"
	opRemove               = "remove"
	opRemoveWithOptions    = "removeWithOptions"
	opRemoveOne            = "removeOne"
	opRemoveOneWithOptions = "removeOneWithOptions"
	opCreateCollection     = "createCollection"
	opGetCollections       = "getCollections"
	opDropCollection       = "dropCollection"
	opRunCommand           = "runCommand"
)

// run executes work on the platform pool under the operation timeout.
func run[T any](s *mongoService, ctx context.Context, op string, h Handler[T], work func(context.Context) (T, error)) {
	execute(s.platform, ctx, op, func(ctx context.Context) (T, error) {
		ctx, cancel := s.withTimeout(ctx)
		defer cancel()
		return work(ctx)
	}, h)
}

func (s *mongoService) Save(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService {
	run(s, ctx, opSave, resultHandler, func(ctx context.Context) (string, error) {
		return s.save(ctx, collection, document, "")
	})
	return s
}

func (s *mongoService) SaveWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService {
	run(s, ctx, opSaveWithOptions, resultHandler, func(ctx context.Context) (string, error) {
		return s.save(ctx, collection, document, writeOption)
	})
	return s
}

func (s *mongoService) save(ctx context.Context, collection string, document Document, writeOption WriteOption) (string, error) {
	coll, err := s.collection(ctx, collection, writeOption)
	if err != nil {
		return "", err
	}

	doc := toBSONDocument(document)
	id, hasID := doc["_id"]
	if !hasID || id == nil {
		return s.insertDocument(ctx, coll, doc)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return "", fmt.Errorf("save %s: %w", collection, err)
	}
	return "", nil
}

func (s *mongoService) Insert(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService {
	run(s, ctx, opInsert, resultHandler, func(ctx context.Context) (string, error) {
		return s.insert(ctx, collection, document, "")
	})
	return s
}

func (s *mongoService) InsertWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService {
	run(s, ctx, opInsertWithOptions, resultHandler, func(ctx context.Context) (string, error) {
		return s.insert(ctx, collection, document, writeOption)
	})
	return s
}

func (s *mongoService) insert(ctx context.Context, collection string, document Document, writeOption WriteOption) (string, error) {
	coll, err := s.collection(ctx, collection, writeOption)
	if err != nil {
		return "", err
	}

	doc := toBSONDocument(document)
	if id, hasID := doc["_id"]; hasID && id != nil {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			return "", fmt.Errorf("insert %s: %w", collection, err)
		}
		return "", nil
	}
	return s.insertDocument(ctx, coll, doc)
}

// insertDocument assigns a fresh string id to doc and inserts it.
func (s *mongoService) insertDocument(ctx context.Context, coll *mongodrv.Collection, doc bson.M) (string, error) {
	id := primitive.NewObjectID().Hex()
	doc["_id"] = id
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert %s: %w", coll.Name(), err)
	}
	return id, nil
}

func (s *mongoService) Update(ctx context.Context, collection string, query, update Document, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opUpdate, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.update(ctx, collection, query, update, &UpdateOptions{})
	})
	return s
}

func (s *mongoService) UpdateWithOptions(ctx context.Context, collection string, query, update Document, opts *UpdateOptions, resultHandler Handler[Void]) MongoService {
	if opts == nil {
		opts = &UpdateOptions{}
	}
	run(s, ctx, opUpdateWithOptions, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.update(ctx, collection, query, update, opts)
	})
	return s
}

func (s *mongoService) update(ctx context.Context, collection string, query, update Document, opts *UpdateOptions) error {
	coll, err := s.collection(ctx, collection, opts.WriteOption)
	if err != nil {
		return err
	}

	filter := toBSONDocument(query)
	updateDoc := toBSONDocument(wrapInSetOperator(update))
	updateOpts := options.Update().SetUpsert(opts.Upsert)

	if opts.Multi {
		_, err = coll.UpdateMany(ctx, filter, updateDoc, updateOpts)
	} else {
		_, err = coll.UpdateOne(ctx, filter, updateDoc, updateOpts)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", collection, err)
	}
	return nil
}

func (s *mongoService) Replace(ctx context.Context, collection string, query, replace Document, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opReplace, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.replace(ctx, collection, query, replace, &UpdateOptions{})
	})
	return s
}

func (s *mongoService) ReplaceWithOptions(ctx context.Context, collection string, query, replace Document, opts *UpdateOptions, resultHandler Handler[Void]) MongoService {
	if opts == nil {
		opts = &UpdateOptions{}
	}
	run(s, ctx, opReplaceWithOptions, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.replace(ctx, collection, query, replace, opts)
	})
	return s
}

func (s *mongoService) replace(ctx context.Context, collection string, query, replace Document, opts *UpdateOptions) error {
	coll, err := s.collection(ctx, collection, opts.WriteOption)
	if err != nil {
		return err
	}

	replaceOpts := options.Replace().SetUpsert(opts.Upsert)
	if _, err := coll.ReplaceOne(ctx, toBSONDocument(query), toBSONDocument(replace), replaceOpts); err != nil {
		return fmt.Errorf("replace %s: %w", collection, err)
	}
	return nil
}

func (s *mongoService) Find(ctx context.Context, collection string, query Document, resultHandler Handler[[]Document]) MongoService {
	run(s, ctx, opFind, resultHandler, func(ctx context.Context) ([]Document, error) {
		return s.find(ctx, collection, query, nil)
	})
	return s
}

func (s *mongoService) FindWithOptions(ctx context.Context, collection string, query Document, opts *FindOptions, resultHandler Handler[[]Document]) MongoService {
	run(s, ctx, opFindWithOptions, resultHandler, func(ctx context.Context) ([]Document, error) {
		return s.find(ctx, collection, query, opts)
	})
	return s
}

func (s *mongoService) find(ctx context.Context, collection string, query Document, opts *FindOptions) ([]Document, error) {
	coll, err := s.collection(ctx, collection, "")
	if err != nil {
		return nil, err
	}
	q, err := newFindQuery(coll, query, opts)
	if err != nil {
		return nil, err
	}
	return q.All(ctx)
}

func (s *mongoService) FindOne(ctx context.Context, collection string, query, fields Document, resultHandler Handler[Document]) MongoService {
	run(s, ctx, opFindOne, resultHandler, func(ctx context.Context) (Document, error) {
		coll, err := s.collection(ctx, collection, "")
		if err != nil {
			return nil, err
		}
		q, err := newFindQuery(coll, query, &FindOptions{Fields: fields})
		if err != nil {
			return nil, err
		}
		return q.One(ctx)
	})
	return s
}

func (s *mongoService) Count(ctx context.Context, collection string, query Document, resultHandler Handler[int64]) MongoService {
	run(s, ctx, opCount, resultHandler, func(ctx context.Context) (int64, error) {
		coll, err := s.collection(ctx, collection, "")
		if err != nil {
			return 0, err
		}
		q, err := newFindQuery(coll, query, nil)
		if err != nil {
			return 0, err
		}
		return q.Count(ctx)
	})
	return s
}

func (s *mongoService) Remove(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opRemove, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.remove(ctx, collection, query, "", true)
	})
	return s
}

func (s *mongoService) RemoveWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opRemoveWithOptions, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.remove(ctx, collection, query, writeOption, true)
	})
	return s
}

func (s *mongoService) RemoveOne(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opRemoveOne, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.remove(ctx, collection, query, "", false)
	})
	return s
}

func (s *mongoService) RemoveOneWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opRemoveOneWithOptions, resultHandler, func(ctx context.Context) (Void, error) {
		return Void{}, s.remove(ctx, collection, query, writeOption, false)
	})
	return s
}

func (s *mongoService) remove(ctx context.Context, collection string, query Document, writeOption WriteOption, many bool) error {
	coll, err := s.collection(ctx, collection, writeOption)
	if err != nil {
		return err
	}

	filter := toBSONDocument(query)
	if many {
		_, err = coll.DeleteMany(ctx, filter)
	} else {
		_, err = coll.DeleteOne(ctx, filter)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", collection, err)
	}
	return nil
}

func (s *mongoService) CreateCollection(ctx context.Context, collectionName string, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opCreateCollection, resultHandler, func(ctx context.Context) (Void, error) {
		if collectionName == "" {
			return Void{}, ErrInvalidCollection
		}
		db, err := s.database(ctx)
		if err != nil {
			return Void{}, err
		}
		if err := db.CreateCollection(ctx, collectionName); err != nil {
			return Void{}, fmt.Errorf("create collection %s: %w", collectionName, err)
		}
		return Void{}, nil
	})
	return s
}

func (s *mongoService) GetCollections(ctx context.Context, resultHandler Handler[[]string]) MongoService {
	run(s, ctx, opGetCollections, resultHandler, func(ctx context.Context) ([]string, error) {
		db, err := s.database(ctx)
		if err != nil {
			return nil, err
		}
		names, err := db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("list collections: %w", err)
		}
		sort.Strings(names)
		return names, nil
	})
	return s
}

func (s *mongoService) DropCollection(ctx context.Context, collection string, resultHandler Handler[Void]) MongoService {
	run(s, ctx, opDropCollection, resultHandler, func(ctx context.Context) (Void, error) {
		coll, err := s.collection(ctx, collection, "")
		if err != nil {
			return Void{}, err
		}
		if err := coll.Drop(ctx); err != nil {
			return Void{}, fmt.Errorf("drop collection %s: %w", collection, err)
		}
		return Void{}, nil
	})
	return s
}

func (s *mongoService) RunCommand(ctx context.Context, command Command, resultHandler Handler[Document]) MongoService {
	run(s, ctx, opRunCommand, resultHandler, func(ctx context.Context) (Document, error) {
		if len(command) == 0 {
			return nil, fmt.Errorf("%w: empty command", ErrInvalidArgs)
		}
		db, err := s.database(ctx)
		if err != nil {
			return nil, err
		}

		var reply bson.M
		if err := db.RunCommand(ctx, toBSON(command)).Decode(&reply); err != nil {
			return nil, fmt.Errorf("run command: %w", err)
		}
		return fromBSONDocument(reply), nil
	})
	return s
}
