package binding

import (
	mongoservice "github.com/kinfkong/mongo-service"
)

// adapt turns a callback into a typed result handler. Exactly one of the
// callback's arguments is non-nil on every invocation, except for successes
// whose converted value is nil.
func adapt[T any](cb Callback, convert func(T) interface{}) mongoservice.Handler[T] {
	return func(r mongoservice.AsyncResult[T]) {
		if r.Failed() {
			cb(nil, r.Cause())
			return
		}
		cb(convert(r.Result()), nil)
	}
}

func idResult(cb Callback) mongoservice.Handler[string] {
	return adapt(cb, func(id string) interface{} {
		if id == "" {
			return nil
		}
		return id
	})
}

func voidResult(cb Callback) mongoservice.Handler[mongoservice.Void] {
	return adapt(cb, func(mongoservice.Void) interface{} { return nil })
}

func documentResult(cb Callback) mongoservice.Handler[mongoservice.Document] {
	return adapt(cb, func(doc mongoservice.Document) interface{} {
		if doc == nil {
			return nil
		}
		return map[string]interface{}(doc)
	})
}

func documentsResult(cb Callback) mongoservice.Handler[[]mongoservice.Document] {
	return adapt(cb, func(docs []mongoservice.Document) interface{} {
		out := make([]interface{}, len(docs))
		for i, doc := range docs {
			out[i] = map[string]interface{}(doc)
		}
		return out
	})
}

func countResult(cb Callback) mongoservice.Handler[int64] {
	return adapt(cb, func(n int64) interface{} { return n })
}

func namesResult(cb Callback) mongoservice.Handler[[]string] {
	return adapt(cb, func(names []string) interface{} {
		out := make([]interface{}, len(names))
		for i, name := range names {
			out[i] = name
		}
		return out
	})
}
