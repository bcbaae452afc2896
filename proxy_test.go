package mongoservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kinfkong/mongo-service/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// recordedCall is what the served service saw for one proxy request.
type recordedCall struct {
	op          string
	collection  string
	document    Document
	query       Document
	update      Document
	fields      Document
	command     Command
	writeOption WriteOption
	updateOpts  *UpdateOptions
	findOpts    *FindOptions
}

// stubService records calls and answers with canned values.
type stubService struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  error

	id    string
	doc   Document
	docs  []Document
	count int64
	names []string
}

var _ MongoService = (*stubService)(nil)

func answer[T any](s *stubService, c recordedCall, v T, h Handler[T]) MongoService {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		deliver(h, Failed[T](fail))
	} else {
		deliver(h, Succeeded(v))
	}
	return s
}

func (s *stubService) last() recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *stubService) Save(_ context.Context, c string, d Document, h Handler[string]) MongoService {
	return answer(s, recordedCall{op: opSave, collection: c, document: d}, s.id, h)
}

func (s *stubService) SaveWithOptions(_ context.Context, c string, d Document, w WriteOption, h Handler[string]) MongoService {
	return answer(s, recordedCall{op: opSaveWithOptions, collection: c, document: d, writeOption: w}, s.id, h)
}

func (s *stubService) Insert(_ context.Context, c string, d Document, h Handler[string]) MongoService {
	return answer(s, recordedCall{op: opInsert, collection: c, document: d}, s.id, h)
}

func (s *stubService) InsertWithOptions(_ context.Context, c string, d Document, w WriteOption, h Handler[string]) MongoService {
	return answer(s, recordedCall{op: opInsertWithOptions, collection: c, document: d, writeOption: w}, s.id, h)
}

func (s *stubService) Update(_ context.Context, c string, q, u Document, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opUpdate, collection: c, query: q, update: u}, Void{}, h)
}

func (s *stubService) UpdateWithOptions(_ context.Context, c string, q, u Document, o *UpdateOptions, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opUpdateWithOptions, collection: c, query: q, update: u, updateOpts: o}, Void{}, h)
}

func (s *stubService) Replace(_ context.Context, c string, q, r Document, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opReplace, collection: c, query: q, document: r}, Void{}, h)
}

func (s *stubService) ReplaceWithOptions(_ context.Context, c string, q, r Document, o *UpdateOptions, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opReplaceWithOptions, collection: c, query: q, document: r, updateOpts: o}, Void{}, h)
}

func (s *stubService) Find(_ context.Context, c string, q Document, h Handler[[]Document]) MongoService {
	return answer(s, recordedCall{op: opFind, collection: c, query: q}, s.docs, h)
}

func (s *stubService) FindWithOptions(_ context.Context, c string, q Document, o *FindOptions, h Handler[[]Document]) MongoService {
	return answer(s, recordedCall{op: opFindWithOptions, collection: c, query: q, findOpts: o}, s.docs, h)
}

func (s *stubService) FindOne(_ context.Context, c string, q, f Document, h Handler[Document]) MongoService {
	return answer(s, recordedCall{op: opFindOne, collection: c, query: q, fields: f}, s.doc, h)
}

func (s *stubService) Count(_ context.Context, c string, q Document, h Handler[int64]) MongoService {
	return answer(s, recordedCall{op: opCount, collection: c, query: q}, s.count, h)
}

func (s *stubService) Remove(_ context.Context, c string, q Document, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opRemove, collection: c, query: q}, Void{}, h)
}

func (s *stubService) RemoveWithOptions(_ context.Context, c string, q Document, w WriteOption, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opRemoveWithOptions, collection: c, query: q, writeOption: w}, Void{}, h)
}

func (s *stubService) RemoveOne(_ context.Context, c string, q Document, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opRemoveOne, collection: c, query: q}, Void{}, h)
}

func (s *stubService) RemoveOneWithOptions(_ context.Context, c string, q Document, w WriteOption, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opRemoveOneWithOptions, collection: c, query: q, writeOption: w}, Void{}, h)
}

func (s *stubService) CreateCollection(_ context.Context, c string, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opCreateCollection, collection: c}, Void{}, h)
}

func (s *stubService) GetCollections(_ context.Context, h Handler[[]string]) MongoService {
	return answer(s, recordedCall{op: opGetCollections}, s.names, h)
}

func (s *stubService) DropCollection(_ context.Context, c string, h Handler[Void]) MongoService {
	return answer(s, recordedCall{op: opDropCollection, collection: c}, Void{}, h)
}

func (s *stubService) RunCommand(_ context.Context, cmd Command, h Handler[Document]) MongoService {
	return answer(s, recordedCall{op: opRunCommand, command: cmd}, s.doc, h)
}

func (s *stubService) Start(context.Context) error { return nil }
func (s *stubService) Stop(context.Context) error  { return nil }

const testAddress = "mongo.test"

func servedProxy(t *testing.T, stub *stubService) (*Platform, MongoService) {
	t.Helper()
	platform := NewPlatform()
	t.Cleanup(func() { platform.Close() })

	sub, err := RegisterService(platform, stub, testAddress)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })
	return platform, CreateEventBusProxy(platform, testAddress)
}

func awaitResult[T any](t *testing.T, call func(Handler[T])) (T, error) {
	t.Helper()
	f := NewFuture[T]()
	call(f.Handle)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func TestProxy_WritesRoundTrip(t *testing.T) {
	stub := &stubService{id: "6500000000000000000000aa"}
	_, proxy := servedProxy(t, stub)
	ctx := context.Background()
	doc := Document{"name": "ada", "age": 36}

	id, err := awaitResult(t, func(h Handler[string]) { proxy.Save(ctx, "users", doc, h) })
	require.NoError(t, err)
	assert.Equal(t, "6500000000000000000000aa", id)
	assert.Equal(t, recordedCall{op: opSave, collection: "users", document: Document{"name": "ada", "age": int64(36)}}, normalised(stub.last()))

	_, err = awaitResult(t, func(h Handler[string]) { proxy.InsertWithOptions(ctx, "users", doc, Majority, h) })
	require.NoError(t, err)
	assert.Equal(t, opInsertWithOptions, stub.last().op)
	assert.Equal(t, Majority, stub.last().writeOption)

	_, err = awaitResult(t, func(h Handler[Void]) {
		proxy.UpdateWithOptions(ctx, "users", Document{"name": "ada"}, Document{"age": 37}, &UpdateOptions{Upsert: true, Multi: true}, h)
	})
	require.NoError(t, err)
	call := stub.last()
	assert.Equal(t, opUpdateWithOptions, call.op)
	assert.Equal(t, &UpdateOptions{Upsert: true, Multi: true}, call.updateOpts)
	assert.Equal(t, Document{"name": "ada"}, call.query)

	_, err = awaitResult(t, func(h Handler[Void]) { proxy.Update(ctx, "users", nil, Document{"x": 1}, h) })
	require.NoError(t, err)
	assert.Nil(t, stub.last().updateOpts)

	_, err = awaitResult(t, func(h Handler[Void]) { proxy.ReplaceWithOptions(ctx, "users", nil, doc, nil, h) })
	require.NoError(t, err)
	assert.Equal(t, opReplaceWithOptions, stub.last().op)
	assert.Nil(t, stub.last().updateOpts)

	_, err = awaitResult(t, func(h Handler[Void]) { proxy.RemoveOneWithOptions(ctx, "users", doc, Journaled, h) })
	require.NoError(t, err)
	assert.Equal(t, opRemoveOneWithOptions, stub.last().op)
	assert.Equal(t, Journaled, stub.last().writeOption)
}

func TestProxy_ReadsRoundTrip(t *testing.T) {
	stub := &stubService{
		doc:   Document{"_id": Document{"$oid": "6500000000000000000000aa"}, "n": int32(1), "score": 2.5},
		docs:  []Document{{"n": 1}, {"n": 2, "tags": []interface{}{"a", 3}}},
		count: 42,
		names: []string{"orders", "users"},
	}
	_, proxy := servedProxy(t, stub)
	ctx := context.Background()

	docs, err := awaitResult(t, func(h Handler[[]Document]) {
		proxy.FindWithOptions(ctx, "users", Document{"age": Document{"$gt": 30}}, &FindOptions{Limit: 10, Sort: Document{"age": -1}}, h)
	})
	require.NoError(t, err)
	assert.Equal(t, []Document{{"n": int64(1)}, {"n": int64(2), "tags": []interface{}{"a", int64(3)}}}, docs)
	call := stub.last()
	require.NotNil(t, call.findOpts)
	assert.Equal(t, int64(10), call.findOpts.Limit)
	assert.Equal(t, Document{"age": int64(-1)}, normaliseDoc(call.findOpts.Sort))

	one, err := awaitResult(t, func(h Handler[Document]) { proxy.FindOne(ctx, "users", nil, Document{"n": 1}, h) })
	require.NoError(t, err)
	assert.Equal(t, Document{"_id": Document{"$oid": "6500000000000000000000aa"}, "n": int64(1), "score": 2.5}, one)

	n, err := awaitResult(t, func(h Handler[int64]) { proxy.Count(ctx, "users", nil, h) })
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	names, err := awaitResult(t, func(h Handler[[]string]) { proxy.GetCollections(ctx, h) })
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, names)

	reply, err := awaitResult(t, func(h Handler[Document]) { proxy.RunCommand(ctx, NewCommand(Document{"ping": 1}), h) })
	require.NoError(t, err)
	assert.Equal(t, int64(1), reply["n"])
	require.Len(t, stub.last().command, 1)
	assert.Equal(t, "ping", stub.last().command[0].Key)

	stub.mu.Lock()
	stub.doc = nil
	stub.mu.Unlock()
	one, err = awaitResult(t, func(h Handler[Document]) { proxy.FindOne(ctx, "users", nil, nil, h) })
	require.NoError(t, err)
	assert.Nil(t, one)
}

func TestProxy_CommandOrderIsKept(t *testing.T) {
	stub := &stubService{doc: Document{"ok": 1}}
	_, proxy := servedProxy(t, stub)

	cmd := Command{
		{Key: "unlistedCommand", Value: "users"},
		{Key: "comment", Value: "x"},
		{Key: "args", Value: Document{"since": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}},
	}
	_, err := awaitResult(t, func(h Handler[Document]) { proxy.RunCommand(context.Background(), cmd, h) })
	require.NoError(t, err)

	got := stub.last().command
	require.Len(t, got, 3)
	assert.Equal(t, []string{"unlistedCommand", "comment", "args"}, []string{got[0].Key, got[1].Key, got[2].Key})
	args := toBSON(got[2].Value).(bson.M)
	assert.Equal(t, primitive.NewDateTimeFromTime(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), args["since"])
}

func TestProxy_DocumentsKeepBSONTypes(t *testing.T) {
	stub := &stubService{}
	_, proxy := servedProxy(t, stub)
	ctx := context.Background()

	oid := primitive.NewObjectID()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	price, err := primitive.ParseDecimal128("19.99")
	require.NoError(t, err)
	doc := Document{
		"_id":   oid,
		"at":    at,
		"price": price,
		"uuid":  primitive.Binary{Subtype: 4, Data: []byte("0123456789abcdef")},
		"tags":  []interface{}{primitive.NewDateTimeFromTime(at)},
	}

	_, err = awaitResult(t, func(h Handler[string]) { proxy.Insert(ctx, "events", doc, h) })
	require.NoError(t, err)

	// What the served service stores must match the direct path.
	direct := toBSONDocument(doc)
	served := toBSONDocument(stub.last().document)
	assert.IsType(t, primitive.ObjectID{}, served["_id"])
	assert.IsType(t, primitive.DateTime(0), served["at"])
	assert.IsType(t, primitive.Decimal128{}, served["price"])
	assert.Equal(t, direct, served)

	_, err = awaitResult(t, func(h Handler[int64]) { proxy.Count(ctx, "events", Document{"_id": oid}, h) })
	require.NoError(t, err)
	assert.Equal(t, oid, toBSONDocument(stub.last().query)["_id"])
}

func TestProxy_CollectionsRoundTrip(t *testing.T) {
	stub := &stubService{}
	_, proxy := servedProxy(t, stub)
	ctx := context.Background()

	_, err := awaitResult(t, func(h Handler[Void]) { proxy.CreateCollection(ctx, "logs", h) })
	require.NoError(t, err)
	assert.Equal(t, recordedCall{op: opCreateCollection, collection: "logs"}, stub.last())

	_, err = awaitResult(t, func(h Handler[Void]) { proxy.DropCollection(ctx, "logs", h) })
	require.NoError(t, err)
	assert.Equal(t, recordedCall{op: opDropCollection, collection: "logs"}, stub.last())

	assert.NoError(t, proxy.Start(ctx))
	assert.NoError(t, proxy.Stop(ctx))
}

func TestProxy_FailuresKeepTheirCode(t *testing.T) {
	stub := &stubService{fail: ErrInvalidCollection}
	_, proxy := servedProxy(t, stub)

	_, err := awaitResult(t, func(h Handler[Void]) { proxy.Remove(context.Background(), "", nil, h) })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCollection)

	var re *eventbus.ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeInvalidCollection, re.Code)
}

func TestProxy_UnknownAction(t *testing.T) {
	platform, _ := servedProxy(t, &stubService{})

	msg := &eventbus.Message{Address: testAddress}
	msg.SetHeader(HeaderAction, "explode")
	_, err := platform.EventBus().Request(context.Background(), msg)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestProxy_BadOptionsAreInvalidArgs(t *testing.T) {
	platform, _ := servedProxy(t, &stubService{})

	msg := &eventbus.Message{Address: testAddress, Body: []byte(`{"collection":"c","options":{"limit":"lots"}}`)}
	msg.SetHeader(HeaderAction, opFindWithOptions)
	_, err := platform.EventBus().Request(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestProxy_NoService(t *testing.T) {
	platform := NewPlatform()
	defer platform.Close()

	_, err := awaitResult(t, func(h Handler[int64]) {
		CreateEventBusProxy(platform, "nobody.home").Count(context.Background(), "c", nil, h)
	})
	assert.ErrorIs(t, err, eventbus.ErrNoHandlers)
}

func TestProxy_ClosedPlatform(t *testing.T) {
	platform := NewPlatform()
	proxy := CreateEventBusProxy(platform, testAddress)
	require.NoError(t, platform.Close())

	_, err := awaitResult(t, func(h Handler[[]string]) { proxy.GetCollections(context.Background(), h) })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRegisterService_Validation(t *testing.T) {
	platform := NewPlatform()
	defer platform.Close()

	_, err := RegisterService(nil, &stubService{}, testAddress)
	assert.ErrorIs(t, err, ErrInvalidArgs)
	_, err = RegisterService(platform, nil, testAddress)
	assert.ErrorIs(t, err, ErrInvalidArgs)
	_, err = RegisterService(platform, &stubService{}, "")
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

// normalised converts the JSON numbers a served call received into int64.
func normalised(c recordedCall) recordedCall {
	c.document = normaliseDoc(c.document)
	c.query = normaliseDoc(c.query)
	c.update = normaliseDoc(c.update)
	c.fields = normaliseDoc(c.fields)
	return c
}

func normaliseDoc(d Document) Document {
	if d == nil {
		return nil
	}
	return fromJSON(d).(Document)
}
