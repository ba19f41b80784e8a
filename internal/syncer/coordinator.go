// Package syncer keeps local cache scopes in step with the remote.
package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// errSuperseded marks work abandoned because its session ended.
var errSuperseded = errors.New("sync session superseded")

// Config configures a Coordinator.
type Config struct {
	// PageSize is the number of items per load-older page.
	PageSize int
	// InitialBackoff and MaxBackoff bound the delay between resubscribe attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RefetchInterval is the minimum spacing of catch-up fetches after a push
	// stream breaks.
	RefetchInterval time.Duration
	// ErrorBuffer is the capacity of the Errors channel.
	ErrorBuffer int
	Verbose     bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:        20,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		RefetchInterval: 2 * time.Second,
		ErrorBuffer:     16,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.RefetchInterval <= 0 {
		c.RefetchInterval = d.RefetchInterval
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = d.ErrorBuffer
	}
}

// Coordinator syncs one collection for one scope at a time. Starting a new
// scope supersedes the previous session: once StartSync returns, nothing the
// old session fetched can reach the cache.
type Coordinator[T models.Entity] struct {
	coll   *storage.Collection[T]
	remote remote.Collection[T]
	config Config
	name   models.Collection

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	// mu guards session state and serializes this coordinator's cache commits.
	mu         sync.Mutex
	gen        uint64
	scope      string
	active     bool
	sessionCtx context.Context
	cancel     context.CancelFunc
	refresh    chan struct{}
	exhausted  bool
	closed     bool
	onClose    []func()

	errs    chan error
	pages   singleflight.Group
	limiter *rate.Limiter
}

// Coordinators for each collection.
type (
	ProjectSync  = Coordinator[*models.Project]
	ChatRoomSync = Coordinator[*models.ChatRoom]
	MessageSync  = Coordinator[*models.Message]
	TaskSync     = Coordinator[*models.Task]
	MemberSync   = Coordinator[*models.ProjectMember]
	UserSync     = Coordinator[*models.User]
)

// New creates an idle coordinator.
func New[T models.Entity](coll *storage.Collection[T], rc remote.Collection[T], config Config) *Coordinator[T] {
	config.setDefaults()
	root, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		coll:       coll,
		remote:     rc,
		config:     config,
		name:       coll.Name(),
		root:       root,
		rootCancel: cancel,
		errs:       make(chan error, config.ErrorBuffer),
		limiter:    rate.NewLimiter(rate.Every(config.RefetchInterval), 1),
	}
}

// Errors delivers non-fatal sync errors. It is closed by Close.
func (c *Coordinator[T]) Errors() <-chan error {
	return c.errs
}

// Collection returns the synced collection name.
func (c *Coordinator[T]) Collection() models.Collection {
	return c.name
}

// Scope returns the active scope and whether a session is running.
func (c *Coordinator[T]) Scope() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope, c.active
}

// StartSync starts syncing scope in the background. A running session for
// another scope is cancelled first; StartSync for the active scope is a no-op.
func (c *Coordinator[T]) StartSync(scope string) {
	c.mu.Lock()
	if c.closed || (c.active && c.scope == scope) {
		c.mu.Unlock()
		return
	}

	prevCancel := c.cancel
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.root)
	refresh := make(chan struct{}, 1)
	c.scope, c.active, c.sessionCtx, c.cancel, c.refresh = scope, true, ctx, cancel, refresh
	c.exhausted = false
	c.wg.Add(1)
	c.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}

	go func() {
		defer c.wg.Done()
		c.run(ctx, gen, scope, refresh)
	}()
}

// StopSync ends the running session, if any.
func (c *Coordinator[T]) StopSync() {
	c.mu.Lock()
	cancel := c.stopLocked()
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator[T]) stopLocked() context.CancelFunc {
	if !c.active {
		return nil
	}
	cancel := c.cancel
	c.gen++
	c.active = false
	c.cancel = nil
	c.sessionCtx = nil
	c.refresh = nil
	return cancel
}

// Refresh asks the running session for an immediate fetch pass.
func (c *Coordinator[T]) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refresh == nil {
		return
	}
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Close stops all work, waits for background goroutines and closes Errors.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	c.rootCancel()
	c.wg.Wait()

	c.mu.Lock()
	close(c.errs)
	hooks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnClose registers fn to run after Close. fn runs at once if the
// coordinator is already closed.
func (c *Coordinator[T]) OnClose(fn func()) {
	c.mu.Lock()
	if !c.closed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// session is the state of one running sync session. It is owned by the
// session goroutine.
type session struct {
	ctx   context.Context
	gen   uint64
	scope string
	// last is the newest change position merged so far.
	last models.Cursor
}

func (c *Coordinator[T]) run(ctx context.Context, gen uint64, scope string, refresh <-chan struct{}) {
	metrics.SyncSessionsActive.WithLabelValues(string(c.name)).Inc()
	defer metrics.SyncSessionsActive.WithLabelValues(string(c.name)).Dec()

	s := &session{ctx: ctx, gen: gen, scope: scope}
	c.logf("%s: session started", scope)
	defer c.logf("%s: session ended", scope)

	c.report(gen, c.fetchAll(s))

	backoff := newBackoff(c.config)
	for ctx.Err() == nil {
		events, err := c.remote.Subscribe(ctx, scope)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logf("%s: subscribe failed (attempt %d): %v", scope, backoff.Attempt()+1, err)
			if !backoff.Wait(ctx) {
				return
			}
			continue
		}

		// Catch up on anything written before the subscription was live.
		c.report(gen, c.fetchAll(s))

		if !c.drain(s, events, refresh, backoff) {
			return
		}

		// The push stream broke. Re-run a full fetch-and-merge, then resubscribe.
		metrics.SyncResubscribes.WithLabelValues(string(c.name)).Inc()
		c.logf("%s: push stream closed, resubscribing (attempt %d)", scope, backoff.Attempt()+1)
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		c.report(gen, c.fetchAll(s))
		if !backoff.Wait(ctx) {
			return
		}
	}
}

// drain merges push events until the stream closes (true) or the session ends (false).
func (c *Coordinator[T]) drain(s *session, events <-chan remote.Event[T], refresh <-chan struct{}, backoff *Backoff) bool {
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-refresh:
			c.report(s.gen, c.fetchAll(s))
		case ev, ok := <-events:
			if !ok {
				return s.ctx.Err() == nil
			}
			backoff.Reset()
			c.report(s.gen, c.applyEvent(s, ev))
		}
	}
}

// fetchAll pulls every change since the persisted cursor, merging each page
// atomically together with the cursor advance.
func (c *Coordinator[T]) fetchAll(s *session) error {
	start := time.Now()
	cache := c.coll.Cache()

	cursor, _, err := cache.Cursor(s.ctx, c.name, s.scope)
	if err != nil {
		if s.ctx.Err() != nil {
			return errSuperseded
		}
		log.Printf("[sync] %s:%s read cursor: %v", c.name, s.scope, err)
		cursor = models.Cursor{}
	}

	merged := 0
	for {
		page, err := c.remote.FetchSince(s.ctx, s.scope, cursor)
		if err != nil {
			if s.ctx.Err() != nil {
				metrics.SyncFetchesTotal.WithLabelValues(string(c.name), "superseded").Inc()
				return errSuperseded
			}
			metrics.SyncFetchesTotal.WithLabelValues(string(c.name), "error").Inc()
			return apperr.Sync("fetch", c.name, s.scope, err)
		}

		batch := &storage.Batch{Remote: true}
		rows, err := c.coll.RowsOf(page.Items)
		if err != nil {
			return apperr.Cache("encode page", err)
		}
		batch.Upserts = rows
		for _, id := range page.Deleted {
			batch.Purges = append(batch.Purges, c.coll.Key(id))
		}
		if !page.Next.IsZero() && !page.Next.Equal(cursor) {
			batch.Cursors = []storage.CursorUpdate{{Collection: c.name, Scope: s.scope, Cursor: page.Next}}
		}

		if err := c.commit(s, batch); err != nil {
			if errors.Is(err, errSuperseded) {
				metrics.SyncFetchesTotal.WithLabelValues(string(c.name), "superseded").Inc()
			}
			return err
		}
		merged += len(rows)
		if !page.Next.IsZero() {
			cursor = page.Next
			if s.last.Before(cursor) {
				s.last = cursor
			}
		}
		if !page.HasMore {
			break
		}
	}

	metrics.SyncFetchesTotal.WithLabelValues(string(c.name), "success").Inc()
	metrics.SyncFetchDuration.WithLabelValues(string(c.name)).Observe(time.Since(start).Seconds())
	metrics.SyncRowsMerged.WithLabelValues(string(c.name), "fetch").Add(float64(merged))
	if merged > 0 {
		c.logf("%s: merged %d rows in %v", s.scope, merged, time.Since(start))
	}
	return nil
}

// applyEvent merges one push event. Events at or before the merged position
// are already reflected in the cache and are skipped.
func (c *Coordinator[T]) applyEvent(s *session, ev remote.Event[T]) error {
	metrics.SyncPushEvents.WithLabelValues(string(c.name), string(ev.Kind)).Inc()
	if !ev.Cursor.IsZero() && !s.last.Before(ev.Cursor) {
		return nil
	}

	batch := &storage.Batch{Remote: true}
	switch ev.Kind {
	case remote.EventUpsert:
		row, err := c.coll.RowOf(ev.Item)
		if err != nil {
			return apperr.Cache("encode event", err)
		}
		if row.Scope != s.scope {
			return nil
		}
		batch.Upserts = []storage.Row{row}
	case remote.EventDelete:
		batch.Purges = []storage.RowKey{c.coll.Key(ev.ID)}
	default:
		return nil
	}
	if !ev.Cursor.IsZero() {
		batch.Cursors = []storage.CursorUpdate{{Collection: c.name, Scope: s.scope, Cursor: ev.Cursor}}
	}

	if err := c.commit(s, batch); err != nil {
		return err
	}
	if !ev.Cursor.IsZero() {
		s.last = ev.Cursor
	}
	metrics.SyncRowsMerged.WithLabelValues(string(c.name), "push").Add(float64(len(batch.Upserts)))
	return nil
}

// commit applies b unless the session has been superseded. The generation
// check and the write happen under the same lock StartSync takes to begin a
// new session.
func (c *Coordinator[T]) commit(s *session, b *storage.Batch) error {
	if b.Empty() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.gen != c.gen || s.ctx.Err() != nil {
		return errSuperseded
	}
	// The write is not tied to session cancellation: once the check passes the
	// batch lands whole.
	_, err := c.coll.Cache().ApplyBatch(context.WithoutCancel(s.ctx), b)
	return err
}

// report delivers err on Errors unless it belongs to a superseded session.
func (c *Coordinator[T]) report(gen uint64, err error) {
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	select {
	case c.errs <- err:
	default:
		log.Printf("[sync] %s error dropped, consumer not draining: %v", c.name, err)
	}
}

func (c *Coordinator[T]) logf(format string, args ...interface{}) {
	if c.config.Verbose {
		log.Printf("[sync] %s "+format, append([]interface{}{c.name}, args...)...)
	}
}
