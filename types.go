// types.go - Value types exchanged with the MongoDB service

package mongoservice

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Document is a generic structured value: string keys mapping to
// JSON-representable values. Queries, updates, options, commands and results
// are all documents.
type Document = map[string]interface{}

// Command is a database command. The first element names the command and
// elements reach the server in order. NewCommand builds one from a Document.
type Command = bson.D

// Void is the result type of operations that produce no value.
type Void struct{}

// WriteOption is the acknowledgement level requested for a write. The empty
// value leaves the client's configured write concern in place.
type WriteOption string

const (
	Acknowledged        WriteOption = "ACKNOWLEDGED"
	Unacknowledged      WriteOption = "UNACKNOWLEDGED"
	Fsynced             WriteOption = "FSYNCED"
	Journaled           WriteOption = "JOURNALED"
	ReplicaAcknowledged WriteOption = "REPLICA_ACKNOWLEDGED"
	Majority            WriteOption = "MAJORITY"
)

// WriteOptions lists every valid write option in declaration order.
var WriteOptions = []WriteOption{
	Acknowledged, Unacknowledged, Fsynced, Journaled, ReplicaAcknowledged, Majority,
}

// ParseWriteOption returns the write option named exactly s.
func ParseWriteOption(s string) (WriteOption, error) {
	for _, w := range WriteOptions {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWriteOption, s)
}

func (w WriteOption) String() string { return string(w) }

// writeConcern maps the option onto a driver write concern. The empty
// option yields nil.
func (w WriteOption) writeConcern() *writeconcern.WriteConcern {
	journal := true
	switch w {
	case Acknowledged:
		return writeconcern.W1()
	case Unacknowledged:
		return writeconcern.Unacknowledged()
	case Fsynced:
		// fsync is deprecated server-side; a journaled single-node ack is the closest guarantee.
		return &writeconcern.WriteConcern{W: 1, Journal: &journal}
	case Journaled:
		return writeconcern.Journaled()
	case ReplicaAcknowledged:
		return &writeconcern.WriteConcern{W: 2}
	case Majority:
		return writeconcern.Majority()
	default:
		return nil
	}
}

// UpdateOptions configures Update and Replace.
type UpdateOptions struct {
	WriteOption WriteOption `mapstructure:"writeOption" json:"writeOption,omitempty"`
	Upsert      bool        `mapstructure:"upsert" json:"upsert,omitempty"`
	Multi       bool        `mapstructure:"multi" json:"multi,omitempty"`
}

// FindOptions configures Find. A Limit of zero or less means no limit.
type FindOptions struct {
	Fields Document `mapstructure:"fields" json:"fields,omitempty"`
	Sort   Document `mapstructure:"sort" json:"sort,omitempty"`
	Limit  int64    `mapstructure:"limit" json:"limit,omitempty"`
	Skip   int64    `mapstructure:"skip" json:"skip,omitempty"`
}

// DecodeUpdateOptions reads update options from a document. A nil document
// yields nil options.
func DecodeUpdateOptions(doc Document) (*UpdateOptions, error) {
	if doc == nil {
		return nil, nil
	}
	var opts UpdateOptions
	if err := decodeDocument(doc, &opts); err != nil {
		return nil, fmt.Errorf("update options: %w", err)
	}
	return &opts, nil
}

// DecodeFindOptions reads find options from a document. A nil document
// yields nil options.
func DecodeFindOptions(doc Document) (*FindOptions, error) {
	if doc == nil {
		return nil, nil
	}
	opts := FindOptions{Limit: -1}
	if err := decodeDocument(doc, &opts); err != nil {
		return nil, fmt.Errorf("find options: %w", err)
	}
	return &opts, nil
}

// Document renders the options back into their document form.
func (o *UpdateOptions) Document() Document {
	if o == nil {
		return nil
	}
	doc := Document{"upsert": o.Upsert, "multi": o.Multi}
	if o.WriteOption != "" {
		doc["writeOption"] = string(o.WriteOption)
	}
	return doc
}

// Document renders the options back into their document form.
func (o *FindOptions) Document() Document {
	if o == nil {
		return nil
	}
	doc := Document{"limit": o.Limit, "skip": o.Skip}
	if o.Fields != nil {
		doc["fields"] = o.Fields
	}
	if o.Sort != nil {
		doc["sort"] = o.Sort
	}
	return doc
}

// decodeDocument decodes doc into out, rejecting unknown keys.
func decodeDocument(doc Document, out interface{}) error {
	_, err := decode(doc, out, true)
	return err
}

// decode decodes doc into out and returns the keys out has no field for.
// With strict set, such keys are an error instead.
func decode(doc Document, out interface{}, strict bool) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(writeOptionDecodeHook(), durationDecodeHook()),
		ErrorUnused:      strict,
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, err
	}
	sort.Strings(md.Unused)
	return md.Unused, nil
}

// writeOptionDecodeHook validates strings decoded into WriteOption fields.
func writeOptionDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(WriteOption("")) {
			return data, nil
		}
		s, ok := data.(string)
		if !ok || s == "" {
			return data, nil
		}
		return ParseWriteOption(s)
	}
}
