package syncer

import (
	"context"
	"errors"
	"strconv"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// PageResult is the outcome of one LoadOlder call.
type PageResult[T models.Entity] struct {
	// Items are the merged items, newest first.
	Items []T
	// Oldest is the cursor to pass to the next LoadOlder call.
	Oldest models.Cursor
	// HasMore is false once the remote has no older items.
	HasMore bool
}

// LoadOlder fetches one page of items strictly older than before and merges
// it into the cache. A zero cursor starts from the oldest cached item. Only
// the active scope can be paged. Concurrent calls with the same cursor share
// one request; calls with different cursors fetch independently.
func (c *Coordinator[T]) LoadOlder(ctx context.Context, scope string, before models.Cursor) (PageResult[T], error) {
	c.mu.Lock()
	if !c.active || c.scope != scope {
		c.mu.Unlock()
		return PageResult[T]{}, apperr.Validation("load older", "scope %q of %s is not being synced", scope, c.name)
	}
	if c.exhausted {
		c.mu.Unlock()
		metrics.PageLoadsTotal.WithLabelValues(string(c.name), "exhausted").Inc()
		return PageResult[T]{Oldest: before}, nil
	}
	s := &session{ctx: c.sessionCtx, gen: c.gen, scope: scope}
	c.mu.Unlock()

	key := strconv.FormatUint(s.gen, 10) + "/" + scope + "/" + before.String()
	ch := c.pages.DoChan(key, func() (interface{}, error) {
		return c.loadOlder(s, before)
	})

	select {
	case <-ctx.Done():
		return PageResult[T]{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return PageResult[T]{}, res.Err
		}
		page := res.Val.(PageResult[T])
		// Shared results must not alias between callers.
		page.Items = append([]T(nil), page.Items...)
		return page, nil
	}
}

func (c *Coordinator[T]) loadOlder(s *session, before models.Cursor) (PageResult[T], error) {
	if before.IsZero() {
		oldest, ok, err := c.coll.Oldest(s.ctx, s.scope)
		if err != nil {
			metrics.PageLoadsTotal.WithLabelValues(string(c.name), "error").Inc()
			return PageResult[T]{}, apperr.Cache("read oldest", err)
		}
		if ok {
			before = oldest
		}
	}

	items, err := c.remote.FetchBefore(s.ctx, s.scope, before, c.config.PageSize)
	if err != nil {
		metrics.PageLoadsTotal.WithLabelValues(string(c.name), "error").Inc()
		return PageResult[T]{}, apperr.Sync("load older", c.name, s.scope, err)
	}
	hasMore := len(items) >= c.config.PageSize

	kept := make([]T, 0, len(items))
	oldest := before
	for _, it := range items {
		pos := models.CursorOf(it)
		if !before.IsZero() && !pos.Before(before) {
			continue
		}
		kept = append(kept, it)
		if oldest.IsZero() || pos.Before(oldest) {
			oldest = pos
		}
	}

	rows, err := c.coll.RowsOf(kept)
	if err != nil {
		return PageResult[T]{}, apperr.Cache("encode page", err)
	}
	if err := c.commit(s, &storage.Batch{Remote: true, Upserts: rows}); err != nil {
		metrics.PageLoadsTotal.WithLabelValues(string(c.name), "error").Inc()
		if errors.Is(err, errSuperseded) {
			return PageResult[T]{}, apperr.Sync("load older", c.name, s.scope, context.Canceled)
		}
		return PageResult[T]{}, err
	}

	if !hasMore {
		c.mu.Lock()
		if s.gen == c.gen {
			c.exhausted = true
		}
		c.mu.Unlock()
	}

	metrics.PageLoadsTotal.WithLabelValues(string(c.name), "success").Inc()
	metrics.SyncRowsMerged.WithLabelValues(string(c.name), "page").Add(float64(len(rows)))
	c.logf("%s: loaded %d older items (more=%v)", s.scope, len(kept), hasMore)

	return PageResult[T]{Items: kept, Oldest: oldest, HasMore: hasMore}, nil
}
