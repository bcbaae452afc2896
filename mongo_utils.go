// mongo_utils.go - Conversion between documents and driver BSON values

package mongoservice

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// toBSON converts a document value into the form handed to the driver.
// Extended JSON wrappers become their BSON types.
func toBSON(input interface{}) interface{} {
	if input == nil {
		return nil
	}

	switch v := input.(type) {
	case map[string]interface{}:
		if special, ok := fromExtendedJSON(v); ok {
			return special
		}
		return toBSONDocument(v)
	case primitive.M:
		return toBSON(map[string]interface{}(v))
	case primitive.D:
		result := make(bson.D, 0, len(v))
		for _, elem := range v {
			result = append(result, bson.E{Key: elem.Key, Value: toBSON(elem.Value)})
		}
		return result
	case []interface{}:
		result := make(primitive.A, len(v))
		for i, item := range v {
			result[i] = toBSON(item)
		}
		return result
	case primitive.A:
		return toBSON([]interface{}(v))
	case []Document:
		result := make(primitive.A, len(v))
		for i, item := range v {
			result[i] = toBSON(item)
		}
		return result
	case time.Time:
		return primitive.NewDateTimeFromTime(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	default:
		val := reflect.ValueOf(input)
		if val.Kind() == reflect.Slice && val.Type().Elem().Kind() != reflect.Uint8 {
			result := make(primitive.A, val.Len())
			for i := 0; i < val.Len(); i++ {
				result[i] = toBSON(val.Index(i).Interface())
			}
			return result
		}
		return v
	}
}

// toBSONDocument copies a document into a bson.M; the input is not mutated.
func toBSONDocument(doc map[string]interface{}) bson.M {
	if doc == nil {
		return bson.M{}
	}
	result := make(bson.M, len(doc))
	for key, value := range doc {
		result[key] = toBSON(value)
	}
	return result
}

// extendedJSONKeys are the wrapper keys of Extended JSON values.
var extendedJSONKeys = map[string]bool{
	"$oid": true, "$date": true, "$binary": true, "$numberDecimal": true,
	"$numberLong": true, "$numberInt": true, "$numberDouble": true,
	"$timestamp": true, "$regularExpression": true, "$minKey": true, "$maxKey": true,
}

// isExtendedJSON reports whether m has the shape of a single Extended JSON
// value, including the legacy {"$binary": ..., "$type": ...} form.
func isExtendedJSON(m map[string]interface{}) bool {
	switch len(m) {
	case 1:
		for key := range m {
			return extendedJSONKeys[key]
		}
	case 2:
		_, hasBinary := m["$binary"]
		_, hasType := m["$type"]
		return hasBinary && hasType
	}
	return false
}

// extendedJSONHolder carries one value through the driver's Extended JSON
// codec.
type extendedJSONHolder struct {
	V interface{} `bson:"v"`
}

// fromExtendedJSON parses wrappers such as {"$oid": "..."} with the driver's
// Extended JSON reader. Wrappers the reader rejects are not values.
func fromExtendedJSON(m map[string]interface{}) (interface{}, bool) {
	if !isExtendedJSON(m) {
		return nil, false
	}
	if ms, ok := legacyDate(m["$date"]); ok {
		return primitive.DateTime(ms), true
	}
	raw, err := json.Marshal(map[string]interface{}{"v": m})
	if err != nil {
		return nil, false
	}
	var holder extendedJSONHolder
	if err := bson.UnmarshalExtJSON(raw, false, &holder); err != nil {
		return nil, false
	}
	return holder.V, true
}

// legacyDate reads the {"$date": <milliseconds>} form.
func legacyDate(v interface{}) (int64, bool) {
	switch d := v.(type) {
	case float64:
		return int64(d), true
	case int64:
		return d, true
	case int:
		return int64(d), true
	case json.Number:
		ms, err := d.Int64()
		return ms, err == nil
	}
	return 0, false
}

// toExtendedJSON renders a BSON value as relaxed Extended JSON, the form
// fromExtendedJSON reads back.
func toExtendedJSON(v interface{}) interface{} {
	raw, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return v
	}
	var out map[string]interface{}
	if err := decodeJSON(raw, &out); err != nil {
		return v
	}
	return fromJSON(out["v"])
}

// fromBSON converts a driver value into a JSON-representable document value.
// BSON types without a JSON counterpart become Extended JSON wrappers.
func fromBSON(input interface{}) interface{} {
	if input == nil {
		return nil
	}

	switch v := input.(type) {
	case primitive.M:
		return fromBSONDocument(v)
	case map[string]interface{}:
		return fromBSONDocument(v)
	case primitive.D:
		result := make(Document, len(v))
		for _, elem := range v {
			result[elem.Key] = fromBSON(elem.Value)
		}
		return result
	case primitive.A:
		return fromBSON([]interface{}(v))
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = fromBSON(item)
		}
		return result
	case []Document:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = fromBSONDocument(item)
		}
		return result
	case time.Time:
		return toExtendedJSON(primitive.NewDateTimeFromTime(v))
	case primitive.ObjectID, primitive.DateTime, primitive.Binary, primitive.Decimal128,
		primitive.Timestamp, primitive.Regex, primitive.MinKey, primitive.MaxKey:
		return toExtendedJSON(v)
	case primitive.Undefined, primitive.Null:
		return nil
	default:
		return v
	}
}

func fromBSONDocument(doc map[string]interface{}) Document {
	result := make(Document, len(doc))
	for key, value := range doc {
		result[key] = fromBSON(value)
	}
	return result
}

// hasUpdateOperators returns true if the document already contains a
// top-level update operator (keys starting with "$").
func hasUpdateOperators(doc Document) bool {
	for k := range doc {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

// wrapInSetOperator turns a plain field document into a $set update.
func wrapInSetOperator(doc Document) Document {
	if doc == nil || hasUpdateOperators(doc) {
		return doc
	}
	return Document{"$set": doc}
}

// sortDocument converts {"field": 1|-1} into an ordered sort specification.
// Map iteration order is random, so fields are ordered by name.
func sortDocument(doc Document) (bson.D, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sorted := make(bson.D, 0, len(keys))
	for _, k := range keys {
		order, err := sortOrder(doc[k])
		if err != nil {
			return nil, fmt.Errorf("sort %q: %w", k, err)
		}
		sorted = append(sorted, bson.E{Key: k, Value: order})
	}
	return sorted, nil
}

func sortOrder(v interface{}) (interface{}, error) {
	switch o := v.(type) {
	case int:
		return int32(sign(int64(o))), nil
	case int32:
		return int32(sign(int64(o))), nil
	case int64:
		return int32(sign(o)), nil
	case float64:
		return int32(sign(int64(o))), nil
	case json.Number:
		n, err := o.Int64()
		if err != nil {
			return nil, err
		}
		return int32(sign(n)), nil
	case map[string]interface{}:
		// {"$meta": "textScore"} and friends pass through.
		return toBSON(o), nil
	default:
		return nil, fmt.Errorf("%w: unsupported sort order %v", ErrInvalidArgs, v)
	}
}

func sign(n int64) int64 {
	if n < 0 {
		return -1
	}
	return 1
}

// knownCommands are server command names that must lead a command document.
var knownCommands = map[string]bool{
	"aggregate": true, "buildInfo": true, "collMod": true, "collStats": true,
	"compact": true, "connectionStatus": true, "convertToCapped": true,
	"count": true, "create": true, "createIndexes": true, "createRole": true,
	"createUser": true, "currentOp": true, "dataSize": true, "dbHash": true,
	"dbStats": true, "delete": true, "distinct": true, "drop": true,
	"dropAllUsersFromDatabase": true, "dropDatabase": true, "dropIndexes": true,
	"dropRole": true, "dropUser": true, "explain": true, "find": true,
	"findAndModify": true, "fsync": true, "getLog": true, "getMore": true,
	"getParameter": true, "grantRolesToUser": true, "hello": true, "hostInfo": true,
	"insert": true, "isMaster": true, "killCursors": true, "killOp": true,
	"listCollections": true, "listCommands": true, "listDatabases": true,
	"listIndexes": true, "logRotate": true, "mapReduce": true, "ping": true,
	"profile": true, "reIndex": true, "renameCollection": true,
	"replSetGetStatus": true, "revokeRolesFromUser": true, "rolesInfo": true,
	"serverStatus": true, "setParameter": true, "top": true, "update": true,
	"updateRole": true, "updateUser": true, "usersInfo": true, "validate": true,
	"whatsmyuri": true,
}

// NewCommand orders an unordered command document: a recognised command name
// first, then the remaining keys by name. Commands whose name is not
// recognised should be built as an ordered Command directly.
func NewCommand(doc Document) Command {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ki, kj := knownCommands[keys[i]], knownCommands[keys[j]]
		if ki != kj {
			return ki
		}
		return keys[i] < keys[j]
	})

	cmd := make(Command, 0, len(keys))
	for _, k := range keys {
		cmd = append(cmd, bson.E{Key: k, Value: doc[k]})
	}
	return cmd
}
