// mongo_query.go - Find queries and cursor draining

package mongoservice

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// findQuery is a prepared query on one collection.
type findQuery struct {
	coll       *mongodrv.Collection
	filter     bson.M
	projection bson.M
	sort       bson.D
	skip       int64
	limit      int64
}

func newFindQuery(coll *mongodrv.Collection, query Document, opts *FindOptions) (*findQuery, error) {
	q := &findQuery{
		coll:   coll,
		filter: toBSONDocument(query),
	}
	if opts == nil {
		return q, nil
	}

	if len(opts.Fields) > 0 {
		q.projection = toBSONDocument(opts.Fields)
	}
	sort, err := sortDocument(opts.Sort)
	if err != nil {
		return nil, err
	}
	q.sort = sort
	if opts.Skip > 0 {
		q.skip = opts.Skip
	}
	if opts.Limit > 0 {
		q.limit = opts.Limit
	}
	return q, nil
}

// One returns the first matching document, or nil when nothing matches.
func (q *findQuery) One(ctx context.Context) (Document, error) {
	findOpts := options.FindOne()
	if q.projection != nil {
		findOpts.SetProjection(q.projection)
	}
	if q.sort != nil {
		findOpts.SetSort(q.sort)
	}
	if q.skip > 0 {
		findOpts.SetSkip(q.skip)
	}

	var doc bson.M
	if err := q.coll.FindOne(ctx, q.filter, findOpts).Decode(&doc); err != nil {
		if errors.Is(err, mongodrv.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find one %s: %w", q.coll.Name(), err)
	}
	return fromBSONDocument(doc), nil
}

// All drains the cursor into documents. No match yields an empty slice.
func (q *findQuery) All(ctx context.Context) ([]Document, error) {
	findOpts := options.Find()
	if q.projection != nil {
		findOpts.SetProjection(q.projection)
	}
	if q.sort != nil {
		findOpts.SetSort(q.sort)
	}
	if q.skip > 0 {
		findOpts.SetSkip(q.skip)
	}
	if q.limit > 0 {
		findOpts.SetLimit(q.limit)
	}

	cursor, err := q.coll.Find(ctx, q.filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", q.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.coll.Name(), err)
		}
		docs = append(docs, fromBSONDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", q.coll.Name(), err)
	}
	return docs, nil
}

// Count counts all documents matching the filter.
func (q *findQuery) Count(ctx context.Context) (int64, error) {
	n, err := q.coll.CountDocuments(ctx, q.filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.coll.Name(), err)
	}
	return n, nil
}
