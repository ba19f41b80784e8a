package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

// handler serves one collection over the wire.
type handler interface {
	fetchSince(ctx context.Context, req *wireRequest) (any, error)
	fetchBefore(ctx context.Context, req *wireRequest) (any, error)
	create(ctx context.Context, req *wireRequest) (any, error)
	update(ctx context.Context, req *wireRequest) (any, error)
	delete(ctx context.Context, req *wireRequest) (any, error)
	subscribe(ctx context.Context, req *wireRequest) (<-chan wireEvent, error)
}

// remoteServer is the gRPC handler type of the Remote service.
type remoteServer interface {
	lookup(models.Collection) (handler, error)
}

// Server exposes backends over gRPC.
type Server struct {
	mu       sync.RWMutex
	handlers map[models.Collection]handler
	verbose  bool

	grpcServer *grpc.Server
}

// NewServer creates a server with no collections registered.
func NewServer(verbose bool) *Server {
	return &Server{
		handlers: make(map[models.Collection]handler),
		verbose:  verbose,
	}
}

// Register exposes backend as the named collection.
func Register[T models.Entity](s *Server, name models.Collection, backend Collection[T], newT func() T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = &collectionHandler[T]{backend: backend, newT: newT}
}

// Attach registers the Remote service on gs.
func (s *Server) Attach(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.grpcServer = grpc.NewServer(grpc.Creds(insecure.NewCredentials()))
	s.Attach(s.grpcServer)

	log.Printf("remote server listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		log.Printf("shutting down remote server...")
		s.grpcServer.GracefulStop()
	}()

	if err := s.grpcServer.Serve(listener); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) lookup(name models.Collection) (handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown collection %q", name)
	}
	return h, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*remoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchSince", Handler: unaryHandler(methodFetchSince, handler.fetchSince)},
		{MethodName: "FetchBefore", Handler: unaryHandler(methodFetchBefore, handler.fetchBefore)},
		{MethodName: "Create", Handler: unaryHandler(methodCreate, handler.create)},
		{MethodName: "Update", Handler: unaryHandler(methodUpdate, handler.update)},
		{MethodName: "Delete", Handler: unaryHandler(methodDelete, handler.delete)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "teamsync/remote/v1/remote.proto",
}

func unaryHandler(method string, call func(handler, context.Context, *wireRequest) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		serve := func(ctx context.Context, req any) (any, error) {
			out, err := serveUnary(ctx, srv.(remoteServer), req.(*wrapperspb.BytesValue), call)
			metrics.RemoteRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
			return out, err
		}
		if interceptor == nil {
			return serve(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, serve)
	}
}

func serveUnary(ctx context.Context, srv remoteServer, in *wrapperspb.BytesValue, call func(handler, context.Context, *wireRequest) (any, error)) (*wrapperspb.BytesValue, error) {
	var req wireRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	h, err := srv.lookup(req.Collection)
	if err != nil {
		return nil, err
	}
	resp, err := call(h, ctx, &req)
	if err != nil {
		return nil, toStatus(err)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return wrapperspb.Bytes(body), nil
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	metrics.RemoteStreamsActive.Inc()
	defer metrics.RemoteStreamsActive.Dec()

	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req wireRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	h, err := srv.(remoteServer).lookup(req.Collection)
	if err != nil {
		return err
	}

	events, err := h.subscribe(stream.Context(), &req)
	if err != nil {
		return toStatus(err)
	}
	for ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return status.Errorf(codes.Internal, "encode event: %v", err)
		}
		if err := stream.SendMsg(wrapperspb.Bytes(body)); err != nil {
			return err
		}
	}
	if err := stream.Context().Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Unavailable, "subscription closed")
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Unavailable, err.Error())
	}
}

// collectionHandler adapts a typed backend to the JSON wire format.
type collectionHandler[T models.Entity] struct {
	backend Collection[T]
	newT    func() T
}

func (h *collectionHandler[T]) decodeItem(raw json.RawMessage) (T, error) {
	item := h.newT()
	if err := json.Unmarshal(raw, item); err != nil {
		var zero T
		return zero, status.Errorf(codes.InvalidArgument, "decode item: %v", err)
	}
	return item, nil
}

func encodeItems[T any](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode item: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (h *collectionHandler[T]) fetchSince(ctx context.Context, req *wireRequest) (any, error) {
	page, err := h.backend.FetchSince(ctx, req.Scope, req.Cursor)
	if err != nil {
		return nil, err
	}
	items, err := encodeItems(page.Items)
	if err != nil {
		return nil, err
	}
	return wirePage{Items: items, Deleted: page.Deleted, Next: page.Next, HasMore: page.HasMore}, nil
}

func (h *collectionHandler[T]) fetchBefore(ctx context.Context, req *wireRequest) (any, error) {
	found, err := h.backend.FetchBefore(ctx, req.Scope, req.Cursor, req.Limit)
	if err != nil {
		return nil, err
	}
	items, err := encodeItems(found)
	if err != nil {
		return nil, err
	}
	return wireItems{Items: items}, nil
}

func (h *collectionHandler[T]) create(ctx context.Context, req *wireRequest) (any, error) {
	item, err := h.decodeItem(req.Item)
	if err != nil {
		return nil, err
	}
	id, err := h.backend.Create(ctx, item)
	if err != nil {
		return nil, err
	}
	return wireID{ID: id}, nil
}

func (h *collectionHandler[T]) update(ctx context.Context, req *wireRequest) (any, error) {
	item, err := h.decodeItem(req.Item)
	if err != nil {
		return nil, err
	}
	if err := h.backend.Update(ctx, item); err != nil {
		return nil, err
	}
	return wireEmpty{}, nil
}

func (h *collectionHandler[T]) delete(ctx context.Context, req *wireRequest) (any, error) {
	if err := h.backend.Delete(ctx, req.ID); err != nil {
		return nil, err
	}
	return wireEmpty{}, nil
}

func (h *collectionHandler[T]) subscribe(ctx context.Context, req *wireRequest) (<-chan wireEvent, error) {
	events, err := h.backend.Subscribe(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	out := make(chan wireEvent)
	go func() {
		defer close(out)
		for ev := range events {
			wev := wireEvent{Kind: ev.Kind, ID: ev.ID, Cursor: ev.Cursor}
			if ev.Kind == EventUpsert {
				b, err := json.Marshal(ev.Item)
				if err != nil {
					log.Printf("[remote] encode event %s: %v", ev.ID, err)
					continue
				}
				wev.Item = b
			}
			select {
			case out <- wev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
