package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMessages() *Memory[*models.Message] {
	return NewMemory(models.CollectionMessages, func() *models.Message { return new(models.Message) })
}

func msg(id, room string, offset int) *models.Message {
	return &models.Message{
		ID:         id,
		ChatRoomID: room,
		SenderID:   "u1",
		Content:    "hello " + id,
		Timestamp:  base.Add(time.Duration(offset) * time.Minute),
		Type:       models.MessageText,
	}
}

func idsOf(items []*models.Message) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it.ID
	}
	return out
}

func TestMemory_FetchSincePaging(t *testing.T) {
	m := newMessages()
	m.SetPageSize(2)
	ctx := context.Background()

	m.Put(msg("m1", "room1", 1), msg("m2", "room1", 2), msg("m3", "room1", 3), msg("x", "room2", 1))

	page, err := m.FetchSince(ctx, "room1", models.Cursor{})
	if err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	if got := idsOf(page.Items); got != "m1,m2" || !page.HasMore {
		t.Fatalf("page 1 = %s hasMore=%v, want m1,m2 true", got, page.HasMore)
	}

	page, err = m.FetchSince(ctx, "room1", page.Next)
	if err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	if got := idsOf(page.Items); got != "m3" || page.HasMore {
		t.Fatalf("page 2 = %s hasMore=%v, want m3 false", got, page.HasMore)
	}

	// Nothing new: empty page, cursor unchanged.
	next := page.Next
	page, _ = m.FetchSince(ctx, "room1", next)
	if len(page.Items) != 0 || !page.Next.Equal(next) {
		t.Errorf("idle fetch = %d items next=%v, want 0 and %v", len(page.Items), page.Next, next)
	}

	// Deletes and updates show up as changes after the cursor.
	m.Remove("m1")
	updated := msg("m2", "room1", 2)
	updated.Content = "edited"
	m.Put(updated)
	page, _ = m.FetchSince(ctx, "room1", next)
	if got := idsOf(page.Items); got != "m2" {
		t.Errorf("items = %s, want m2", got)
	}
	if len(page.Deleted) != 1 || page.Deleted[0] != "m1" {
		t.Errorf("deleted = %v, want [m1]", page.Deleted)
	}
}

func TestMemory_FetchBefore(t *testing.T) {
	m := newMessages()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		m.Put(msg(fmt.Sprintf("m%d", i), "room1", i))
	}

	tests := []struct {
		name   string
		before models.Cursor
		limit  int
		want   string
	}{
		{"no bound", models.Cursor{}, 2, "m5,m4"},
		{"strictly older", models.Cursor{Time: base.Add(3 * time.Minute), ID: "m3"}, 10, "m2,m1"},
		{"nothing older", models.Cursor{Time: base, ID: ""}, 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FetchBefore(ctx, "room1", tt.before, tt.limit)
			if err != nil {
				t.Fatalf("FetchBefore() error = %v", err)
			}
			if idsOf(got) != tt.want {
				t.Errorf("FetchBefore() = %s, want %s", idsOf(got), tt.want)
			}
		})
	}
}

func TestMemory_CreateUpdateDelete(t *testing.T) {
	m := newMessages()
	ctx := context.Background()

	id, err := m.Create(ctx, msg("local-1", "room1", 1))
	if err != nil || id != "local-1" {
		t.Fatalf("Create() = %q, %v", id, err)
	}
	if _, err := m.Create(ctx, msg("local-1", "room1", 1)); err == nil {
		t.Error("duplicate Create() should fail")
	}

	m.SetReassignIDs(true)
	id, err = m.Create(ctx, msg("local-2", "room1", 2))
	if err != nil || id == "local-2" || id == "" {
		t.Fatalf("Create() with reassign = %q, %v", id, err)
	}
	if got, ok := m.Get(id); !ok || got.ID != id {
		t.Errorf("stored entity id = %v, want %s", got, id)
	}

	if err := m.Update(ctx, msg("missing", "room1", 1)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
	if err := m.Delete(ctx, "local-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := m.Delete(ctx, "local-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestMemory_FaultInjection(t *testing.T) {
	m := newMessages()
	ctx := context.Background()
	boom := errors.New("boom")

	m.FailNext(OpCreate, boom)
	if _, err := m.Create(ctx, msg("m1", "room1", 1)); !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want boom", err)
	}
	if _, err := m.Create(ctx, msg("m1", "room1", 1)); err != nil {
		t.Errorf("second Create() error = %v", err)
	}
	if m.Calls(OpCreate) != 2 || m.TotalCalls() != 2 {
		t.Errorf("calls = %d/%d, want 2/2", m.Calls(OpCreate), m.TotalCalls())
	}

	release := m.Hold(OpFetchSince)
	done := make(chan error, 1)
	go func() {
		_, err := m.FetchSince(ctx, "room1", models.Cursor{})
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("held call returned early")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	if err := <-done; err != nil {
		t.Errorf("released FetchSince() error = %v", err)
	}

	release = m.Hold(OpFetchSince)
	defer release()
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.FetchSince(cctx, "room1", models.Cursor{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled held call error = %v, want context.Canceled", err)
	}
}

func TestMemory_Subscribe(t *testing.T) {
	m := newMessages()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := m.Subscribe(ctx, "room1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	m.Put(msg("x", "room2", 1), msg("m1", "room1", 1))
	m.Remove("m1")

	want := []struct {
		kind EventKind
		id   string
	}{{EventUpsert, "m1"}, {EventDelete, "m1"}}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.Kind != w.kind || ev.ID != w.id {
				t.Errorf("event = %s %s, want %s %s", ev.Kind, ev.ID, w.kind, w.id)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	m.Disconnect()
	if _, ok := <-events; ok {
		t.Error("channel should close on disconnect")
	}

	events, _ = m.Subscribe(ctx, "room1")
	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
