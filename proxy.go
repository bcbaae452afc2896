// proxy.go - Event-bus proxy and service registration

package mongoservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kinfkong/mongo-service/eventbus"
	"go.mongodb.org/mongo-driver/bson"
)

// HeaderAction names the operation a proxy request invokes.
const HeaderAction = "action"

// proxyRequest is the body of a proxy request: the operation's named
// parameters. Unused parameters are omitted. Document values travel as
// Extended JSON so BSON types survive the trip.
type proxyRequest struct {
	Collection     string           `json:"collection,omitempty"`
	CollectionName string           `json:"collectionName,omitempty"`
	Document       Document         `json:"document,omitempty"`
	Query          Document         `json:"query,omitempty"`
	Update         Document         `json:"update,omitempty"`
	Replace        Document         `json:"replace,omitempty"`
	Fields         Document         `json:"fields,omitempty"`
	Command        []commandElement `json:"command,omitempty"`
	Options        Document         `json:"options,omitempty"`
	WriteOption    WriteOption      `json:"writeOption,omitempty"`
}

// commandElement is one element of an ordered command.
type commandElement struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// encode converts document values to their Extended JSON form.
func (r proxyRequest) encode() proxyRequest {
	r.Document = wireDocument(r.Document)
	r.Query = wireDocument(r.Query)
	r.Update = wireDocument(r.Update)
	r.Replace = wireDocument(r.Replace)
	r.Fields = wireDocument(r.Fields)
	r.Options = wireDocument(r.Options)
	if r.Command != nil {
		elems := make([]commandElement, len(r.Command))
		for i, elem := range r.Command {
			elems[i] = commandElement{Key: elem.Key, Value: fromBSON(elem.Value)}
		}
		r.Command = elems
	}
	return r
}

func wireDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	return fromBSONDocument(doc)
}

func commandElements(cmd Command) []commandElement {
	elems := make([]commandElement, len(cmd))
	for i, e := range cmd {
		elems[i] = commandElement{Key: e.Key, Value: e.Value}
	}
	return elems
}

func (r *proxyRequest) command() Command {
	if r.Command == nil {
		return nil
	}
	cmd := make(Command, len(r.Command))
	for i, elem := range r.Command {
		cmd[i] = bson.E{Key: elem.Key, Value: elem.Value}
	}
	return cmd
}

// eventBusProxy is a MongoService whose calls are sent over the platform's
// event bus to the service registered at address.
type eventBusProxy struct {
	platform *Platform
	address  string
}

var _ MongoService = (*eventBusProxy)(nil)

func newEventBusProxy(platform *Platform, address string) *eventBusProxy {
	return &eventBusProxy{platform: platform, address: address}
}

// send issues one request and decodes the reply into T.
func send[T any](p *eventBusProxy, ctx context.Context, action string, req proxyRequest, h Handler[T]) MongoService {
	body, err := json.Marshal(req.encode())
	if err != nil {
		deliver(h, Failed[T](fmt.Errorf("%s: encode request: %w", action, err)))
		return p
	}
	msg := &eventbus.Message{Address: p.address, Body: body}
	msg.SetHeader(HeaderAction, action)

	started := spawn(p.platform, func() AsyncResult[T] {
		start := time.Now()
		reply, err := p.platform.bus.Request(ctx, msg)
		if err == nil {
			var v T
			v, err = decodeReply[T](reply.Body)
			if err == nil {
				p.platform.metrics.observe(action, nil, time.Since(start))
				return Succeeded(v)
			}
		}
		p.platform.metrics.observe(action, err, time.Since(start))
		p.platform.logger.Debug("proxy request failed", "address", p.address, "action", action, "error", err)
		return Failed[T](err)
	}, h)
	if !started {
		deliver(h, Failed[T](ErrStopped))
	}
	return p
}

func (p *eventBusProxy) Save(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService {
	return send(p, ctx, opSave, proxyRequest{Collection: collection, Document: document}, resultHandler)
}

func (p *eventBusProxy) SaveWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService {
	return send(p, ctx, opSaveWithOptions, proxyRequest{Collection: collection, Document: document, WriteOption: writeOption}, resultHandler)
}

func (p *eventBusProxy) Insert(ctx context.Context, collection string, document Document, resultHandler Handler[string]) MongoService {
	return send(p, ctx, opInsert, proxyRequest{Collection: collection, Document: document}, resultHandler)
}

func (p *eventBusProxy) InsertWithOptions(ctx context.Context, collection string, document Document, writeOption WriteOption, resultHandler Handler[string]) MongoService {
	return send(p, ctx, opInsertWithOptions, proxyRequest{Collection: collection, Document: document, WriteOption: writeOption}, resultHandler)
}

func (p *eventBusProxy) Update(ctx context.Context, collection string, query, update Document, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opUpdate, proxyRequest{Collection: collection, Query: query, Update: update}, resultHandler)
}

func (p *eventBusProxy) UpdateWithOptions(ctx context.Context, collection string, query, update Document, options *UpdateOptions, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opUpdateWithOptions, proxyRequest{Collection: collection, Query: query, Update: update, Options: options.Document()}, resultHandler)
}

func (p *eventBusProxy) Replace(ctx context.Context, collection string, query, replace Document, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opReplace, proxyRequest{Collection: collection, Query: query, Replace: replace}, resultHandler)
}

func (p *eventBusProxy) ReplaceWithOptions(ctx context.Context, collection string, query, replace Document, options *UpdateOptions, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opReplaceWithOptions, proxyRequest{Collection: collection, Query: query, Replace: replace, Options: options.Document()}, resultHandler)
}

func (p *eventBusProxy) Find(ctx context.Context, collection string, query Document, resultHandler Handler[[]Document]) MongoService {
	return send(p, ctx, opFind, proxyRequest{Collection: collection, Query: query}, resultHandler)
}

func (p *eventBusProxy) FindWithOptions(ctx context.Context, collection string, query Document, options *FindOptions, resultHandler Handler[[]Document]) MongoService {
	return send(p, ctx, opFindWithOptions, proxyRequest{Collection: collection, Query: query, Options: options.Document()}, resultHandler)
}

func (p *eventBusProxy) FindOne(ctx context.Context, collection string, query, fields Document, resultHandler Handler[Document]) MongoService {
	return send(p, ctx, opFindOne, proxyRequest{Collection: collection, Query: query, Fields: fields}, resultHandler)
}

func (p *eventBusProxy) Count(ctx context.Context, collection string, query Document, resultHandler Handler[int64]) MongoService {
	return send(p, ctx, opCount, proxyRequest{Collection: collection, Query: query}, resultHandler)
}

func (p *eventBusProxy) Remove(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opRemove, proxyRequest{Collection: collection, Query: query}, resultHandler)
}

func (p *eventBusProxy) RemoveWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opRemoveWithOptions, proxyRequest{Collection: collection, Query: query, WriteOption: writeOption}, resultHandler)
}

func (p *eventBusProxy) RemoveOne(ctx context.Context, collection string, query Document, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opRemoveOne, proxyRequest{Collection: collection, Query: query}, resultHandler)
}

func (p *eventBusProxy) RemoveOneWithOptions(ctx context.Context, collection string, query Document, writeOption WriteOption, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opRemoveOneWithOptions, proxyRequest{Collection: collection, Query: query, WriteOption: writeOption}, resultHandler)
}

func (p *eventBusProxy) CreateCollection(ctx context.Context, collectionName string, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opCreateCollection, proxyRequest{CollectionName: collectionName}, resultHandler)
}

func (p *eventBusProxy) GetCollections(ctx context.Context, resultHandler Handler[[]string]) MongoService {
	return send(p, ctx, opGetCollections, proxyRequest{}, resultHandler)
}

func (p *eventBusProxy) DropCollection(ctx context.Context, collection string, resultHandler Handler[Void]) MongoService {
	return send(p, ctx, opDropCollection, proxyRequest{Collection: collection}, resultHandler)
}

func (p *eventBusProxy) RunCommand(ctx context.Context, command Command, resultHandler Handler[Document]) MongoService {
	return send(p, ctx, opRunCommand, proxyRequest{Command: commandElements(command)}, resultHandler)
}

// Start is a no-op: the registered service owns its connection.
func (p *eventBusProxy) Start(context.Context) error { return nil }

// Stop is a no-op: the registered service owns its connection.
func (p *eventBusProxy) Stop(context.Context) error { return nil }

// decodeReply decodes a JSON reply body. Numbers inside documents become
// int64 when integral, float64 otherwise.
func decodeReply[T any](body []byte) (T, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := decodeJSON(body, &v); err != nil {
		return v, fmt.Errorf("decode reply: %w", err)
	}
	switch r := any(&v).(type) {
	case *Document:
		fromJSON(*r)
	case *[]Document:
		for _, doc := range *r {
			fromJSON(doc)
		}
	}
	return v, nil
}

func decodeJSON(body []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

// fromJSON replaces json.Number values in place and returns the result.
func fromJSON(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, item := range t {
			t[k] = fromJSON(item)
		}
		return t
	case []interface{}:
		for i, item := range t {
			t[i] = fromJSON(item)
		}
		return t
	default:
		return v
	}
}
