package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	// Pure Go SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

// SQLiteCache implements Cache using SQLite.
type SQLiteCache struct {
	path    string
	db      *sql.DB
	verbose bool

	// writeMu serializes batches and change notification.
	writeMu   sync.Mutex
	version   atomic.Uint64
	listeners map[int]func(Change)
	nextID    int
	listenMu  sync.Mutex
}

// NewSQLiteCache creates a new SQLite cache stored at path.
func NewSQLiteCache(path string) *SQLiteCache {
	return &SQLiteCache{
		path:      path,
		listeners: make(map[int]func(Change)),
	}
}

// SetVerbose enables verbose logging.
func (s *SQLiteCache) SetVerbose(v bool) {
	s.verbose = v
}

// Open initializes the database connection.
func (s *SQLiteCache) Open() error {
	ctx := context.Background()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := s.path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteCache) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteCache) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteCache) Migrate() error {
	return runMigrations(s.db)
}

// Version returns the number of committed batches.
func (s *SQLiteCache) Version() uint64 {
	return s.version.Load()
}

// Subscribe registers fn to run after each commit. fn runs while writers are
// blocked, so it must return quickly and must not write to the cache.
func (s *SQLiteCache) Subscribe(fn func(Change)) func() {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		delete(s.listeners, id)
		s.listenMu.Unlock()
	}
}

func (s *SQLiteCache) notify(change Change) {
	s.listenMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// ApplyBatch commits b in one transaction and notifies listeners.
func (s *SQLiteCache) ApplyBatch(ctx context.Context, b *Batch) (Change, error) {
	if b == nil || b.Empty() {
		return Change{Version: s.version.Load()}, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	keys, err := s.applyTx(ctx, b)
	if err != nil {
		metrics.CacheCommitErrors.Inc()
		return Change{}, apperr.Cache("apply batch", err)
	}
	metrics.CacheCommitsTotal.Inc()
	metrics.CacheCommitDuration.Observe(time.Since(start).Seconds())

	change := Change{Version: s.version.Add(1), Keys: keys}
	s.logf("commit v%d: upserts=%d deletes=%d purges=%d cursors=%d",
		change.Version, len(b.Upserts), len(b.Deletes), len(b.Purges), len(b.Cursors))
	s.notify(change)
	return change, nil
}

func (s *SQLiteCache) applyTx(ctx context.Context, b *Batch) ([]ScopeKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	touched := newKeySet()

	for _, row := range b.Upserts {
		if err := upsertRow(ctx, tx, row, b.Remote, touched); err != nil {
			return nil, err
		}
	}
	for _, key := range b.Deletes {
		if err := tombstoneRow(ctx, tx, key, touched); err != nil {
			return nil, err
		}
	}
	for _, key := range b.Purges {
		if err := purgeRow(ctx, tx, key, touched); err != nil {
			return nil, err
		}
	}
	for _, key := range b.Restores {
		if err := restoreRow(ctx, tx, key); err != nil {
			return nil, err
		}
	}
	for _, key := range b.Confirms {
		if err := confirmRow(ctx, tx, key, touched); err != nil {
			return nil, err
		}
	}
	for _, cu := range b.Cursors {
		if err := saveCursor(ctx, tx, cu); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return touched.keys(), nil
}

func (s *SQLiteCache) logf(format string, args ...interface{}) {
	if s.verbose {
		log.Printf("[cache] "+format, args...)
	}
}

// keySet collects touched scopes in first-touch order.
type keySet struct {
	seen  map[ScopeKey]struct{}
	order []ScopeKey
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[ScopeKey]struct{})}
}

func (k *keySet) add(collection models.Collection, scope string) {
	key := ScopeKey{Collection: collection, Scope: scope}
	if _, ok := k.seen[key]; ok {
		return
	}
	k.seen[key] = struct{}{}
	k.order = append(k.order, key)
}

func (k *keySet) keys() []ScopeKey {
	return k.order
}

// sortNanos maps a time to the stored ordering value. The zero time sorts first.
func sortNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
