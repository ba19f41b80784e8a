package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Dial opens a client connection to a remote server. userAgent is sent with
// every call when set.
func Dial(address, userAgent string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if userAgent != "" {
		opts = append(opts, grpc.WithUserAgent(userAgent))
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to remote: %w", err)
	}
	return conn, nil
}

// GRPCCollection is a Collection backed by a remote server.
type GRPCCollection[T models.Entity] struct {
	conn grpc.ClientConnInterface
	name models.Collection
	newT func() T
}

// NewGRPCCollection creates a client for the named collection.
func NewGRPCCollection[T models.Entity](conn grpc.ClientConnInterface, name models.Collection, newT func() T) *GRPCCollection[T] {
	return &GRPCCollection[T]{conn: conn, name: name, newT: newT}
}

func (c *GRPCCollection[T]) invoke(ctx context.Context, method string, req *wireRequest, resp any) error {
	req.Collection = c.name
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, method, wrapperspb.Bytes(body), out); err != nil {
		return fromStatus(err)
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(out.GetValue(), resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *GRPCCollection[T]) decode(raw json.RawMessage) (T, error) {
	item := c.newT()
	if err := json.Unmarshal(raw, item); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return item, nil
}

func (c *GRPCCollection[T]) decodeAll(raws []json.RawMessage) ([]T, error) {
	items := make([]T, 0, len(raws))
	for _, raw := range raws {
		item, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// FetchSince implements Collection.
func (c *GRPCCollection[T]) FetchSince(ctx context.Context, scope string, since models.Cursor) (Page[T], error) {
	var wp wirePage
	if err := c.invoke(ctx, methodFetchSince, &wireRequest{Scope: scope, Cursor: since}, &wp); err != nil {
		return Page[T]{}, fmt.Errorf("fetch since: %w", err)
	}
	items, err := c.decodeAll(wp.Items)
	if err != nil {
		return Page[T]{}, err
	}
	return Page[T]{Items: items, Deleted: wp.Deleted, Next: wp.Next, HasMore: wp.HasMore}, nil
}

// FetchBefore implements Collection.
func (c *GRPCCollection[T]) FetchBefore(ctx context.Context, scope string, before models.Cursor, limit int) ([]T, error) {
	var wi wireItems
	if err := c.invoke(ctx, methodFetchBefore, &wireRequest{Scope: scope, Cursor: before, Limit: limit}, &wi); err != nil {
		return nil, fmt.Errorf("fetch before: %w", err)
	}
	return c.decodeAll(wi.Items)
}

// Create implements Collection.
func (c *GRPCCollection[T]) Create(ctx context.Context, item T) (string, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode item: %w", err)
	}
	var resp wireID
	if err := c.invoke(ctx, methodCreate, &wireRequest{Item: raw}, &resp); err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	return resp.ID, nil
}

// Update implements Collection.
func (c *GRPCCollection[T]) Update(ctx context.Context, item T) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	if err := c.invoke(ctx, methodUpdate, &wireRequest{Item: raw}, nil); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// Delete implements Collection.
func (c *GRPCCollection[T]) Delete(ctx context.Context, id string) error {
	if err := c.invoke(ctx, methodDelete, &wireRequest{ID: id}, nil); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Subscribe implements Collection.
func (c *GRPCCollection[T]) Subscribe(ctx context.Context, scope string) (<-chan Event[T], error) {
	body, err := json.Marshal(&wireRequest{Collection: c.name, Scope: scope})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodSubscribe)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", fromStatus(err))
	}
	if err := stream.SendMsg(wrapperspb.Bytes(body)); err != nil {
		return nil, fmt.Errorf("subscribe: %w", fromStatus(err))
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", fromStatus(err))
	}

	events := make(chan Event[T], subscriberBuffer)
	go func() {
		defer close(events)
		for {
			in := new(wrapperspb.BytesValue)
			if err := stream.RecvMsg(in); err != nil {
				return
			}
			var wev wireEvent
			if err := json.Unmarshal(in.GetValue(), &wev); err != nil {
				return
			}
			ev := Event[T]{Kind: wev.Kind, ID: wev.ID, Cursor: wev.Cursor}
			if wev.Kind == EventUpsert {
				item, err := c.decode(wev.Item)
				if err != nil {
					return
				}
				ev.Item = item
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// fromStatus maps gRPC status codes back to contract errors.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), ErrNotFound)
	case codes.Unavailable:
		return fmt.Errorf("%s: %w", st.Message(), ErrUnavailable)
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
