// proxy_binder.go - Serves proxy requests with a local service

package mongoservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kinfkong/mongo-service/eventbus"
)

// RegisterService consumes address on the platform's event bus and answers
// proxy requests with service. Unsubscribe the returned subscription to stop
// serving.
func RegisterService(platform *Platform, service MongoService, address string) (eventbus.Subscription, error) {
	if platform == nil || service == nil || address == "" {
		return nil, ErrInvalidArgs
	}
	b := &serviceBinder{service: service, platform: platform}
	sub, err := platform.bus.Consume(address, b.handle)
	if err != nil {
		return nil, fmt.Errorf("register service at %s: %w", address, err)
	}
	platform.logger.Info("mongo service registered", "address", address)
	return sub, nil
}

type serviceBinder struct {
	service  MongoService
	platform *Platform
}

func (b *serviceBinder) handle(ctx context.Context, msg *eventbus.Message) (*eventbus.Message, error) {
	action := msg.Header(HeaderAction)

	var req proxyRequest
	if len(msg.Body) > 0 {
		if err := decodeJSON(msg.Body, &req); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgs, action, err)
		}
	}

	result, err := b.dispatch(ctx, action, &req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%s: encode reply: %w", action, err)
	}
	return &eventbus.Message{Body: body}, nil
}

func (b *serviceBinder) dispatch(ctx context.Context, action string, req *proxyRequest) (interface{}, error) {
	svc := b.service
	switch action {
	case opSave:
		return await(ctx, func(h Handler[string]) { svc.Save(ctx, req.Collection, req.Document, h) })
	case opSaveWithOptions:
		return await(ctx, func(h Handler[string]) { svc.SaveWithOptions(ctx, req.Collection, req.Document, req.WriteOption, h) })
	case opInsert:
		return await(ctx, func(h Handler[string]) { svc.Insert(ctx, req.Collection, req.Document, h) })
	case opInsertWithOptions:
		return await(ctx, func(h Handler[string]) { svc.InsertWithOptions(ctx, req.Collection, req.Document, req.WriteOption, h) })
	case opUpdate:
		return await(ctx, func(h Handler[Void]) { svc.Update(ctx, req.Collection, req.Query, req.Update, h) })
	case opUpdateWithOptions:
		opts, err := DecodeUpdateOptions(req.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		return await(ctx, func(h Handler[Void]) { svc.UpdateWithOptions(ctx, req.Collection, req.Query, req.Update, opts, h) })
	case opReplace:
		return await(ctx, func(h Handler[Void]) { svc.Replace(ctx, req.Collection, req.Query, req.Replace, h) })
	case opReplaceWithOptions:
		opts, err := DecodeUpdateOptions(req.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		return await(ctx, func(h Handler[Void]) { svc.ReplaceWithOptions(ctx, req.Collection, req.Query, req.Replace, opts, h) })
	case opFind:
		return await(ctx, func(h Handler[[]Document]) { svc.Find(ctx, req.Collection, req.Query, h) })
	case opFindWithOptions:
		opts, err := DecodeFindOptions(req.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
		}
		return await(ctx, func(h Handler[[]Document]) { svc.FindWithOptions(ctx, req.Collection, req.Query, opts, h) })
	case opFindOne:
		return await(ctx, func(h Handler[Document]) { svc.FindOne(ctx, req.Collection, req.Query, req.Fields, h) })
	case opCount:
		return await(ctx, func(h Handler[int64]) { svc.Count(ctx, req.Collection, req.Query, h) })
	case opRemove:
		return await(ctx, func(h Handler[Void]) { svc.Remove(ctx, req.Collection, req.Query, h) })
	case opRemoveWithOptions:
		return await(ctx, func(h Handler[Void]) { svc.RemoveWithOptions(ctx, req.Collection, req.Query, req.WriteOption, h) })
	case opRemoveOne:
		return await(ctx, func(h Handler[Void]) { svc.RemoveOne(ctx, req.Collection, req.Query, h) })
	case opRemoveOneWithOptions:
		return await(ctx, func(h Handler[Void]) { svc.RemoveOneWithOptions(ctx, req.Collection, req.Query, req.WriteOption, h) })
	case opCreateCollection:
		return await(ctx, func(h Handler[Void]) { svc.CreateCollection(ctx, req.CollectionName, h) })
	case opGetCollections:
		return await(ctx, func(h Handler[[]string]) { svc.GetCollections(ctx, h) })
	case opDropCollection:
		return await(ctx, func(h Handler[Void]) { svc.DropCollection(ctx, req.Collection, h) })
	case opRunCommand:
		return await(ctx, func(h Handler[Document]) { svc.RunCommand(ctx, req.command(), h) })
	default:
		b.platform.logger.Warn("unknown proxy action", "action", action)
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// await issues call and blocks until its handler fires.
func await[T any](ctx context.Context, call func(Handler[T])) (interface{}, error) {
	f := NewFuture[T]()
	call(f.Handle)
	return f.Await(ctx)
}
