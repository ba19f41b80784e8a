// Package storage provides the on-device local cache that every view renders from.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Cache is the local cache contract. Implementations serialize writers and
// apply each Batch atomically.
type Cache interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// ApplyBatch commits every operation in b in one transaction.
	ApplyBatch(ctx context.Context, b *Batch) (Change, error)
	// Get returns a live (non-deleted) row by id.
	Get(ctx context.Context, collection models.Collection, id string) (RawRow, bool, error)
	// Query returns live rows matching q.
	Query(ctx context.Context, q Query) ([]RawRow, error)

	// Cursor returns the last synced cursor for a collection scope.
	Cursor(ctx context.Context, collection models.Collection, scope string) (models.Cursor, bool, error)
	// ResetCursor forgets the synced cursor so the next fetch is a full one.
	ResetCursor(ctx context.Context, collection models.Collection, scope string) error

	// Subscribe registers fn to be called after every commit, in commit order.
	Subscribe(fn func(Change)) (unsubscribe func())
	// Version returns the number of committed batches.
	Version() uint64
}

// Row is one entity as stored in the cache.
type Row struct {
	Collection models.Collection
	ID         string
	Scope      string
	NaturalKey string
	SortTime   time.Time
	Payload    []byte
	Pending    bool
}

// RowKey addresses one row.
type RowKey struct {
	Collection models.Collection
	ID         string
}

// RawRow is a row read back from the cache.
type RawRow struct {
	ID      string
	Payload []byte
	Pending bool
}

// CursorUpdate advances the synced cursor of a scope.
type CursorUpdate struct {
	Collection models.Collection
	Scope      string
	Cursor     models.Cursor
}

// Batch is a set of writes committed atomically.
type Batch struct {
	// Remote marks rows that came from the remote. Remote upserts never
	// resurrect a row whose local delete is still pending.
	Remote bool

	Upserts []Row
	// Deletes tombstone rows pending remote confirmation.
	Deletes []RowKey
	// Purges remove rows outright.
	Purges []RowKey
	// Restores clear the pending flag of tombstones whose remote delete failed,
	// so the next remote upsert re-creates them.
	Restores []RowKey
	// Confirms clear the pending flag of live rows the remote accepted.
	Confirms []RowKey
	Cursors  []CursorUpdate
}

// Empty reports whether the batch has no operations.
func (b *Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0 && len(b.Purges) == 0 &&
		len(b.Restores) == 0 && len(b.Confirms) == 0 && len(b.Cursors) == 0
}

// ScopeKey identifies one partition of a collection.
type ScopeKey struct {
	Collection models.Collection
	Scope      string
}

// Change describes a committed batch.
type Change struct {
	Version uint64
	Keys    []ScopeKey
}

// Touches reports whether the change affected the given scope.
func (c Change) Touches(collection models.Collection, scope string) bool {
	for _, k := range c.Keys {
		if k.Collection == collection && k.Scope == scope {
			return true
		}
	}
	return false
}

// Query selects live rows of one collection scope.
type Query struct {
	Collection models.Collection
	Scope      string
	// Before restricts results to rows strictly older than the cursor.
	Before *models.Cursor
	// Limit caps the result size. Zero means no limit.
	Limit int
	// Ascending orders oldest first. The default is newest first.
	Ascending bool
}
