// Package remote defines the authoritative backend contract and its implementations.
package remote

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// ErrNotFound is returned when an update or delete targets a missing entity.
var ErrNotFound = errors.New("entity not found")

// ErrUnavailable is returned when the backend cannot be reached.
var ErrUnavailable = errors.New("remote unavailable")

// Page is one batch of changes since a cursor.
type Page[T any] struct {
	Items []T
	// Deleted holds ids removed on the remote.
	Deleted []string
	// Next is the position to resume from.
	Next models.Cursor
	// HasMore reports whether further changes are waiting past Next.
	HasMore bool
}

// EventKind identifies a push event.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

// Event is a single pushed change.
type Event[T any] struct {
	Kind EventKind
	ID   string
	// Item is set for upserts.
	Item T
	// Cursor is the change position of the event.
	Cursor models.Cursor
}

// Collection is the remote contract for one entity collection. Every call may
// fail or be slow.
type Collection[T models.Entity] interface {
	// FetchSince returns changes in scope after cursor, oldest first.
	FetchSince(ctx context.Context, scope string, since models.Cursor) (Page[T], error)
	// FetchBefore returns up to limit live entities of scope sorting strictly
	// before the cursor, newest first. A zero cursor means no bound.
	FetchBefore(ctx context.Context, scope string, before models.Cursor, limit int) ([]T, error)
	// Create stores a new entity and returns its remote id.
	Create(ctx context.Context, item T) (string, error)
	// Update overwrites an existing entity.
	Update(ctx context.Context, item T) error
	// Delete removes an entity.
	Delete(ctx context.Context, id string) error
	// Subscribe streams changes in scope until ctx ends or the stream breaks,
	// at which point the channel is closed.
	Subscribe(ctx context.Context, scope string) (<-chan Event[T], error)
}

// Op names a remote operation.
type Op string

const (
	OpFetchSince  Op = "fetch_since"
	OpFetchBefore Op = "fetch_before"
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpSubscribe   Op = "subscribe"
)

// Ops lists every remote operation.
var Ops = []Op{OpFetchSince, OpFetchBefore, OpCreate, OpUpdate, OpDelete, OpSubscribe}
