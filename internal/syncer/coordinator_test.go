package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestCache(t *testing.T) *storage.SQLiteCache {
	t.Helper()
	cache := storage.NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err := cache.Open(); err != nil {
		t.Fatalf("open cache: %v", err)
	}
	if err := cache.Migrate(); err != nil {
		t.Fatalf("migrate cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func testConfig() Config {
	return Config{
		PageSize:        20,
		InitialBackoff:  5 * time.Millisecond,
		MaxBackoff:      20 * time.Millisecond,
		RefetchInterval: 5 * time.Millisecond,
	}
}

func msg(id, room string, minute int) *models.Message {
	return &models.Message{
		ID:         id,
		ChatRoomID: room,
		SenderID:   "u1",
		Content:    "hello " + id,
		Timestamp:  base.Add(time.Duration(minute) * time.Minute),
		Type:       models.MessageText,
	}
}

func newRemote() *remote.Memory[*models.Message] {
	return remote.NewMemory(models.CollectionMessages, func() *models.Message { return new(models.Message) })
}

func newSync(t *testing.T, rc remote.Collection[*models.Message]) (*MessageSync, *storage.Collection[*models.Message]) {
	t.Helper()
	coll := storage.Messages(setupTestCache(t))
	c := New(coll, rc, testConfig())
	t.Cleanup(c.Close)
	return c, coll
}

func cachedIDs(t *testing.T, coll *storage.Collection[*models.Message], room string) string {
	t.Helper()
	items, err := coll.Query(context.Background(), storage.Query{Scope: room, Ascending: true})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it.ID
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// stubbornRemote ignores cancellation of FetchSince for one scope until released.
type stubbornRemote struct {
	remote.Collection[*models.Message]
	scope   string
	entered chan struct{}
	gate    chan struct{}
}

func (r *stubbornRemote) FetchSince(ctx context.Context, scope string, since models.Cursor) (remote.Page[*models.Message], error) {
	if scope == r.scope {
		select {
		case r.entered <- struct{}{}:
		default:
		}
		<-r.gate
		return r.Collection.FetchSince(context.Background(), scope, since)
	}
	return r.Collection.FetchSince(ctx, scope, since)
}

// quietRemote never pushes anything.
type quietRemote struct {
	remote.Collection[*models.Message]
}

func (r *quietRemote) Subscribe(ctx context.Context, scope string) (<-chan remote.Event[*models.Message], error) {
	ch := make(chan remote.Event[*models.Message])
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestCoordinator_InitialFetch(t *testing.T) {
	mem := newRemote()
	mem.SetPageSize(2)
	mem.Put(msg("m3", "room1", 3), msg("m1", "room1", 1), msg("m2", "room1", 2), msg("x1", "room2", 1))

	c, coll := newSync(t, mem)
	c.StartSync("room1")

	waitFor(t, "room1 rows", func() bool { return cachedIDs(t, coll, "room1") == "m1,m2,m3" })
	if got := cachedIDs(t, coll, "room2"); got != "" {
		t.Errorf("room2 = %q, want nothing synced", got)
	}

	cursor, ok, err := coll.Cache().Cursor(context.Background(), models.CollectionMessages, "room1")
	if err != nil || !ok || cursor.IsZero() {
		t.Errorf("Cursor() = %v, %v, %v, want a saved cursor", cursor, ok, err)
	}
	if scope, active := c.Scope(); scope != "room1" || !active {
		t.Errorf("Scope() = %q, %v, want room1, true", scope, active)
	}
}

func TestCoordinator_SupersededFetchNeverLands(t *testing.T) {
	mem := newRemote()
	mem.Put(msg("a1", "room1", 1), msg("b1", "room2", 1))
	stub := &stubbornRemote{
		Collection: mem,
		scope:      "room1",
		entered:    make(chan struct{}, 1),
		gate:       make(chan struct{}),
	}

	c, coll := newSync(t, stub)
	c.StartSync("room1")
	select {
	case <-stub.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("room1 fetch never started")
	}

	c.StartSync("room2")
	waitFor(t, "room2 rows", func() bool { return cachedIDs(t, coll, "room2") == "b1" })

	// The old fetch now completes, ignoring its cancellation.
	close(stub.gate)
	c.Close()

	if got := cachedIDs(t, coll, "room1"); got != "" {
		t.Errorf("room1 = %q, want no rows from the superseded session", got)
	}
	if _, ok, _ := coll.Cache().Cursor(context.Background(), models.CollectionMessages, "room1"); ok {
		t.Error("superseded session saved a cursor")
	}
}

func TestCoordinator_FetchErrorKeepsCache(t *testing.T) {
	mem := newRemote()
	boom := errors.New("backend down")
	mem.FailNext(remote.OpFetchSince, boom)

	c, coll := newSync(t, mem)
	if err := coll.Upsert(context.Background(), msg("m0", "room1", 0)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	c.StartSync("room1")

	select {
	case err := <-c.Errors():
		if !apperr.IsKind(err, apperr.KindSync) {
			t.Errorf("error kind = %q, want sync", apperr.KindOf(err))
		}
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want it to wrap %v", err, boom)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sync error delivered")
	}

	if got := cachedIDs(t, coll, "room1"); got != "m0" {
		t.Errorf("room1 = %q, want stale m0 kept", got)
	}
}

func TestCoordinator_PushEvents(t *testing.T) {
	mem := newRemote()
	mem.Put(msg("m1", "room1", 1))

	c, coll := newSync(t, mem)
	c.StartSync("room1")
	waitFor(t, "subscription", func() bool { return mem.Subscribers() == 1 })

	mem.Put(msg("m2", "room1", 2))
	waitFor(t, "pushed m2", func() bool { return cachedIDs(t, coll, "room1") == "m1,m2" })

	edited := msg("m1", "room1", 1)
	edited.Content = "edited"
	mem.Put(edited)
	waitFor(t, "pushed edit", func() bool {
		got, ok, _ := coll.Get(context.Background(), "m1")
		return ok && got.Content == "edited"
	})

	mem.Remove("m2")
	waitFor(t, "pushed delete", func() bool { return cachedIDs(t, coll, "room1") == "m1" })
}

func TestCoordinator_ResubscribesAfterDisconnect(t *testing.T) {
	mem := newRemote()
	c, coll := newSync(t, mem)
	c.StartSync("room1")
	waitFor(t, "subscription", func() bool { return mem.Subscribers() == 1 })

	mem.Disconnect()
	mem.Put(msg("m1", "room1", 1))

	waitFor(t, "refetched m1", func() bool { return cachedIDs(t, coll, "room1") == "m1" })
	waitFor(t, "resubscribe", func() bool { return mem.Subscribers() == 1 })
	if mem.Calls(remote.OpSubscribe) < 2 {
		t.Errorf("subscribe calls = %d, want at least 2", mem.Calls(remote.OpSubscribe))
	}

	select {
	case err := <-c.Errors():
		t.Errorf("unexpected error after disconnect: %v", err)
	default:
	}
}

func TestCoordinator_Refresh(t *testing.T) {
	mem := newRemote()
	c, coll := newSync(t, &quietRemote{Collection: mem})
	c.StartSync("room1")
	waitFor(t, "initial fetch", func() bool { return mem.Calls(remote.OpFetchSince) >= 2 })

	mem.Put(msg("m1", "room1", 1))
	c.Refresh()
	waitFor(t, "refreshed m1", func() bool { return cachedIDs(t, coll, "room1") == "m1" })
}

func TestCoordinator_StartSameScopeIsNoop(t *testing.T) {
	mem := newRemote()
	c, _ := newSync(t, mem)

	c.StartSync("room1")
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	c.StartSync("room1")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		t.Errorf("gen = %d after repeated StartSync, want %d", c.gen, gen)
	}
}

func TestCoordinator_StopAndClose(t *testing.T) {
	mem := newRemote()
	coll := storage.Messages(setupTestCache(t))
	c := New(coll, mem, testConfig())

	c.StartSync("room1")
	waitFor(t, "subscription", func() bool { return mem.Subscribers() == 1 })

	c.StopSync()
	if _, active := c.Scope(); active {
		t.Error("Scope() active after StopSync")
	}
	waitFor(t, "unsubscribe", func() bool { return mem.Subscribers() == 0 })

	c.StartSync("room2")
	c.Close()
	c.Close()

	if _, ok := <-c.Errors(); ok {
		t.Error("Errors() should be closed after Close")
	}
	waitFor(t, "subscriptions released", func() bool { return mem.Subscribers() == 0 })

	// Closed coordinators ignore new work.
	c.StartSync("room3")
	if _, active := c.Scope(); active {
		t.Error("StartSync after Close started a session")
	}
}

func TestCoordinator_OnClose(t *testing.T) {
	coll := storage.Messages(setupTestCache(t))
	c := New(coll, newRemote(), testConfig())

	calls := 0
	c.OnClose(func() { calls++ })
	c.StartSync("room1")
	c.Close()
	c.Close()
	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}

	late := false
	c.OnClose(func() { late = true })
	if !late {
		t.Error("hook registered after Close did not run")
	}
}

func TestCoordinator_ManyRooms(t *testing.T) {
	mem := newRemote()
	for r := 1; r <= 3; r++ {
		for i := 1; i <= 3; i++ {
			mem.Put(msg(fmt.Sprintf("r%d-m%d", r, i), fmt.Sprintf("room%d", r), i))
		}
	}

	c, coll := newSync(t, mem)
	for r := 1; r <= 3; r++ {
		room := fmt.Sprintf("room%d", r)
		c.StartSync(room)
		want := fmt.Sprintf("r%d-m1,r%d-m2,r%d-m3", r, r, r)
		waitFor(t, room, func() bool { return cachedIDs(t, coll, room) == want })
	}
}
