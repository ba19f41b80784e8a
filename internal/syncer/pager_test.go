package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
)

// seedHistory puts n messages m1..mn one minute apart into room1.
func seedHistory(mem *remote.Memory[*models.Message], n int) {
	for i := 1; i <= n; i++ {
		mem.Put(msg(fmt.Sprintf("m%02d", i), "room1", i))
	}
}

// historyRemote serves older pages only; catch-up fetches see no changes.
type historyRemote struct {
	quietRemote
}

func (r *historyRemote) FetchSince(ctx context.Context, scope string, since models.Cursor) (remote.Page[*models.Message], error) {
	return remote.Page[*models.Message]{Next: since}, ctx.Err()
}

func TestLoadOlder_Pages(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 30)

	c, coll := newSync(t, &quietRemote{Collection: mem})
	c.StartSync("room1")
	ctx := context.Background()

	// Items m01..m27 are older than m28.
	cursor := models.CursorOf(msg("m28", "room1", 28))

	tests := []struct {
		name     string
		wantN    int
		wantMore bool
	}{
		{"full page", 20, true},
		{"short page", 7, false},
		{"exhausted", 0, false},
	}

	for _, tt := range tests {
		page, err := c.LoadOlder(ctx, "room1", cursor)
		if err != nil {
			t.Fatalf("%s: LoadOlder() error = %v", tt.name, err)
		}
		if len(page.Items) != tt.wantN || page.HasMore != tt.wantMore {
			t.Errorf("%s: got %d items hasMore=%v, want %d %v", tt.name, len(page.Items), page.HasMore, tt.wantN, tt.wantMore)
		}
		for _, it := range page.Items {
			if !models.CursorOf(it).Before(cursor) {
				t.Errorf("%s: item %s is not older than cursor %v", tt.name, it.ID, cursor)
			}
			if got, ok, _ := coll.Get(ctx, it.ID); !ok || got.ID != it.ID {
				t.Errorf("%s: item %s not merged into the cache", tt.name, it.ID)
			}
		}
		cursor = page.Oldest
	}

	if got := mem.Calls(remote.OpFetchBefore); got != 2 {
		t.Errorf("FetchBefore calls = %d, want 2", got)
	}
	if cursor.ID != "m01" {
		t.Errorf("oldest cursor = %v, want m01", cursor)
	}
}

func TestLoadOlder_ZeroCursorStartsAtOldestCached(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 5)

	c, coll := newSync(t, &historyRemote{quietRemote{Collection: mem}})
	ctx := context.Background()
	if err := coll.UpsertMany(ctx, []*models.Message{msg("m04", "room1", 4), msg("m05", "room1", 5)}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	c.StartSync("room1")

	page, err := c.LoadOlder(ctx, "room1", models.Cursor{})
	if err != nil {
		t.Fatalf("LoadOlder() error = %v", err)
	}
	ids := ""
	for _, it := range page.Items {
		ids += it.ID + " "
	}
	if ids != "m03 m02 m01 " {
		t.Errorf("items = %q, want m03 m02 m01 (newest first)", ids)
	}
	if page.HasMore {
		t.Error("HasMore = true for a short page")
	}
}

func TestLoadOlder_SharedRequest(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 30)

	c, _ := newSync(t, &quietRemote{Collection: mem})
	c.StartSync("room1")
	ctx := context.Background()
	cursor := models.CursorOf(msg("m28", "room1", 28))

	release := mem.Hold(remote.OpFetchBefore)
	var wg sync.WaitGroup
	results := make([]PageResult[*models.Message], 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.LoadOlder(ctx, "room1", cursor)
		}(i)
	}

	waitFor(t, "held fetch", func() bool { return mem.Calls(remote.OpFetchBefore) == 1 })
	// Give the second caller time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if len(results[i].Items) != 20 {
			t.Errorf("caller %d got %d items, want 20", i, len(results[i].Items))
		}
	}
	if got := mem.Calls(remote.OpFetchBefore); got != 1 {
		t.Errorf("FetchBefore calls = %d, want 1", got)
	}
}

func TestLoadOlder_DistinctCursorsFetchSeparately(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 30)

	c, _ := newSync(t, &quietRemote{Collection: mem})
	c.StartSync("room1")
	ctx := context.Background()
	cursors := []models.Cursor{
		models.CursorOf(msg("m28", "room1", 28)),
		models.CursorOf(msg("m10", "room1", 10)),
	}

	release := mem.Hold(remote.OpFetchBefore)
	var wg sync.WaitGroup
	results := make([]PageResult[*models.Message], len(cursors))
	errs := make([]error, len(cursors))
	for i := range cursors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.LoadOlder(ctx, "room1", cursors[i])
		}(i)
	}

	waitFor(t, "both fetches", func() bool { return mem.Calls(remote.OpFetchBefore) == 2 })
	release()
	wg.Wait()

	wantLen := []int{20, 9}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if len(results[i].Items) != wantLen[i] {
			t.Errorf("caller %d got %d items, want %d", i, len(results[i].Items), wantLen[i])
		}
		for _, it := range results[i].Items {
			if !models.CursorOf(it).Before(cursors[i]) {
				t.Errorf("caller %d got %s, not older than its cursor", i, it.ID)
			}
		}
	}
}

func TestLoadOlder_InactiveScope(t *testing.T) {
	mem := newRemote()
	c, _ := newSync(t, mem)
	c.StartSync("room1")

	_, err := c.LoadOlder(context.Background(), "room2", models.Cursor{})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("LoadOlder(room2) error = %v, want validation error", err)
	}
	if mem.Calls(remote.OpFetchBefore) != 0 {
		t.Error("inactive scope reached the remote")
	}
}

func TestLoadOlder_CallerCancel(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 3)
	c, _ := newSync(t, &quietRemote{Collection: mem})
	c.StartSync("room1")

	release := mem.Hold(remote.OpFetchBefore)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.LoadOlder(ctx, "room1", models.Cursor{}); err != context.DeadlineExceeded {
		t.Errorf("LoadOlder() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestLoadOlder_ResetsWithNewSession(t *testing.T) {
	mem := newRemote()
	seedHistory(mem, 3)
	c, _ := newSync(t, &quietRemote{Collection: mem})
	ctx := context.Background()

	c.StartSync("room1")
	page, err := c.LoadOlder(ctx, "room1", models.Cursor{})
	if err != nil || page.HasMore {
		t.Fatalf("LoadOlder() = %v, %v, want short page", page.HasMore, err)
	}

	c.StartSync("room2")
	c.StartSync("room1")
	if _, err := c.LoadOlder(ctx, "room1", models.Cursor{}); err != nil {
		t.Fatalf("LoadOlder() after restart error = %v", err)
	}
	if got := mem.Calls(remote.OpFetchBefore); got != 2 {
		t.Errorf("FetchBefore calls = %d, want 2 (exhaustion is per session)", got)
	}
}
