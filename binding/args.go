package binding

import (
	"fmt"

	mongoservice "github.com/kinfkong/mongo-service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// argKind is the script-level type expected at one argument position.
type argKind int

const (
	argString argKind = iota
	argObject
	argFunction
	argPlatform
)

// match reports whether args has exactly the given shape.
func match(args []interface{}, shape ...argKind) bool {
	if len(args) != len(shape) {
		return false
	}
	for i, kind := range shape {
		if !isKind(args[i], kind) {
			return false
		}
	}
	return true
}

func isKind(v interface{}, kind argKind) bool {
	switch kind {
	case argString:
		_, ok := v.(string)
		return ok
	case argObject:
		return isObject(v)
	case argFunction:
		_, ok := asCallback(v)
		return ok
	case argPlatform:
		p, ok := v.(*mongoservice.Platform)
		return ok && p != nil
	}
	return false
}

// isObject accepts generic objects. A nil value counts, as script runtimes
// report null as an object.
func isObject(v interface{}) bool {
	switch v.(type) {
	case nil, map[string]interface{}, primitive.M, primitive.D:
		return true
	}
	return false
}

func asCallback(v interface{}) (Callback, bool) {
	switch f := v.(type) {
	case Callback:
		return f, f != nil
	case func(interface{}, error):
		return f, f != nil
	}
	return nil, false
}

// document converts an object argument. Callers have already checked it
// with isObject.
func document(v interface{}) mongoservice.Document {
	switch d := v.(type) {
	case map[string]interface{}:
		return d
	case primitive.M:
		return mongoservice.Document(d)
	case primitive.D:
		doc := make(mongoservice.Document, len(d))
		for _, e := range d {
			doc[e.Key] = e.Value
		}
		return doc
	}
	return nil
}

// command converts an object argument to a command, keeping the element
// order of a primitive.D.
func command(v interface{}) mongoservice.Command {
	if d, ok := v.(primitive.D); ok {
		return d
	}
	return mongoservice.NewCommand(document(v))
}

func callback(v interface{}) Callback {
	cb, _ := asCallback(v)
	return cb
}

func writeOption(v interface{}) (mongoservice.WriteOption, error) {
	return mongoservice.ParseWriteOption(v.(string))
}

func updateOptions(v interface{}) (*mongoservice.UpdateOptions, error) {
	opts, err := mongoservice.DecodeUpdateOptions(document(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return opts, nil
}

func findOptions(v interface{}) (*mongoservice.FindOptions, error) {
	opts, err := mongoservice.DecodeFindOptions(document(v))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return opts, nil
}
