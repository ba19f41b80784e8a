package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// setupGRPC serves backend over an in-memory listener and returns a client for it.
func setupGRPC(t *testing.T, backend *Memory[*models.Message]) *GRPCCollection[*models.Message] {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	srv := NewServer(false)
	Register(srv, models.CollectionMessages, Collection[*models.Message](backend), func() *models.Message { return new(models.Message) })

	gs := grpc.NewServer()
	srv.Attach(gs)
	go gs.Serve(listener)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewGRPCCollection(conn, models.CollectionMessages, func() *models.Message { return new(models.Message) })
}

func TestGRPC_RoundTrip(t *testing.T) {
	backend := newMessages()
	client := setupGRPC(t, backend)
	ctx := context.Background()

	backend.Put(msg("m1", "room1", 1), msg("m2", "room1", 2))

	page, err := client.FetchSince(ctx, "room1", models.Cursor{})
	if err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	if got := idsOf(page.Items); got != "m1,m2" {
		t.Errorf("FetchSince() = %s, want m1,m2", got)
	}
	if page.Next.IsZero() {
		t.Error("Next cursor should be set")
	}
	if !page.Items[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("timestamp = %v, want %v", page.Items[0].Timestamp, base.Add(time.Minute))
	}

	older, err := client.FetchBefore(ctx, "room1", models.Cursor{Time: base.Add(2 * time.Minute), ID: "m2"}, 10)
	if err != nil {
		t.Fatalf("FetchBefore() error = %v", err)
	}
	if got := idsOf(older); got != "m1" {
		t.Errorf("FetchBefore() = %s, want m1", got)
	}

	id, err := client.Create(ctx, msg("m3", "room1", 3))
	if err != nil || id != "m3" {
		t.Fatalf("Create() = %q, %v", id, err)
	}

	edited := msg("m3", "room1", 3)
	edited.Content = "edited"
	if err := client.Update(ctx, edited); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got, _ := backend.Get("m3"); got.Content != "edited" {
		t.Errorf("content = %q, want edited", got.Content)
	}

	if err := client.Delete(ctx, "m3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := client.Delete(ctx, "m3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestGRPC_ErrorMapping(t *testing.T) {
	backend := newMessages()
	client := setupGRPC(t, backend)
	ctx := context.Background()

	backend.FailNext(OpFetchSince, errors.New("backend down"))
	if _, err := client.FetchSince(ctx, "room1", models.Cursor{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("FetchSince() error = %v, want ErrUnavailable", err)
	}

	if err := client.Update(ctx, msg("nope", "room1", 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}

	other := NewGRPCCollection(client.conn, models.CollectionTasks, func() *models.Task { return new(models.Task) })
	if _, err := other.FetchSince(ctx, "p1", models.Cursor{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unregistered collection error = %v, want ErrNotFound", err)
	}
}

func TestGRPC_Subscribe(t *testing.T) {
	backend := newMessages()
	client := setupGRPC(t, backend)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := client.Subscribe(ctx, "room1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// The server registers the subscription asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for backend.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	backend.Put(msg("m1", "room1", 1))
	select {
	case ev := <-events:
		if ev.Kind != EventUpsert || ev.Item == nil || ev.Item.ID != "m1" {
			t.Errorf("event = %+v, want upsert m1", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// A broken backend stream ends the client channel.
	backend.Disconnect()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after disconnect")
	}
}
