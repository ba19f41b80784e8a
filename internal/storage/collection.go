package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Collection is a typed view over one collection of the cache.
type Collection[T models.Entity] struct {
	cache Cache
	name  models.Collection
	newT  func() T
}

// NewCollection creates a typed collection. newT must return a fresh zero entity.
func NewCollection[T models.Entity](cache Cache, name models.Collection, newT func() T) *Collection[T] {
	return &Collection[T]{cache: cache, name: name, newT: newT}
}

// Projects returns the projects collection of cache.
func Projects(cache Cache) *Collection[*models.Project] {
	return NewCollection(cache, models.CollectionProjects, func() *models.Project { return new(models.Project) })
}

// ChatRooms returns the chat rooms collection of cache.
func ChatRooms(cache Cache) *Collection[*models.ChatRoom] {
	return NewCollection(cache, models.CollectionChatRooms, func() *models.ChatRoom { return new(models.ChatRoom) })
}

// Messages returns the messages collection of cache.
func Messages(cache Cache) *Collection[*models.Message] {
	return NewCollection(cache, models.CollectionMessages, func() *models.Message { return new(models.Message) })
}

// Tasks returns the tasks collection of cache.
func Tasks(cache Cache) *Collection[*models.Task] {
	return NewCollection(cache, models.CollectionTasks, func() *models.Task { return new(models.Task) })
}

// Members returns the project members collection of cache.
func Members(cache Cache) *Collection[*models.ProjectMember] {
	return NewCollection(cache, models.CollectionProjectMembers, func() *models.ProjectMember { return new(models.ProjectMember) })
}

// Users returns the users collection of cache.
func Users(cache Cache) *Collection[*models.User] {
	return NewCollection(cache, models.CollectionUsers, func() *models.User { return new(models.User) })
}

// Name returns the collection name.
func (c *Collection[T]) Name() models.Collection {
	return c.name
}

// Cache returns the underlying cache.
func (c *Collection[T]) Cache() Cache {
	return c.cache
}

// New returns a fresh zero entity.
func (c *Collection[T]) New() T {
	return c.newT()
}

// RowOf encodes e as a cache row.
func (c *Collection[T]) RowOf(e T) (Row, error) {
	if n, ok := any(e).(models.Normalizer); ok {
		n.Normalize()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Row{}, fmt.Errorf("encode %s %s: %w", c.name, e.EntityID(), err)
	}
	row := Row{
		Collection: c.name,
		ID:         e.EntityID(),
		Scope:      e.ScopeKey(),
		SortTime:   e.SortTime(),
		Payload:    payload,
		Pending:    e.IsPending(),
	}
	if nk, ok := any(e).(models.NaturalKeyer); ok {
		row.NaturalKey = nk.NaturalKey()
	}
	return row, nil
}

// RowsOf encodes every entity of es.
func (c *Collection[T]) RowsOf(es []T) ([]Row, error) {
	rows := make([]Row, 0, len(es))
	for _, e := range es {
		row, err := c.RowOf(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Key addresses the row with the given id.
func (c *Collection[T]) Key(id string) RowKey {
	return RowKey{Collection: c.name, ID: id}
}

// Decode turns a raw row back into an entity.
func (c *Collection[T]) Decode(raw RawRow) (T, error) {
	e := c.newT()
	if err := json.Unmarshal(raw.Payload, e); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s %s: %w", c.name, raw.ID, err)
	}
	e.SetPending(raw.Pending)
	return e, nil
}

// Upsert writes one entity.
func (c *Collection[T]) Upsert(ctx context.Context, e T) error {
	return c.UpsertMany(ctx, []T{e})
}

// UpsertMany writes every entity of es in one atomic batch.
func (c *Collection[T]) UpsertMany(ctx context.Context, es []T) error {
	rows, err := c.RowsOf(es)
	if err != nil {
		return apperr.Cache("upsert "+string(c.name), err)
	}
	_, err = c.cache.ApplyBatch(ctx, &Batch{Upserts: rows})
	return err
}

// Delete tombstones the entity until the remote confirms the delete.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	_, err := c.cache.ApplyBatch(ctx, &Batch{Deletes: []RowKey{c.Key(id)}})
	return err
}

// Purge removes the entity outright.
func (c *Collection[T]) Purge(ctx context.Context, id string) error {
	_, err := c.cache.ApplyBatch(ctx, &Batch{Purges: []RowKey{c.Key(id)}})
	return err
}

// Get returns a live entity by id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	raw, ok, err := c.cache.Get(ctx, c.name, id)
	if err != nil || !ok {
		return zero, false, err
	}
	e, err := c.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return e, true, nil
}

// Query returns live entities of one scope.
func (c *Collection[T]) Query(ctx context.Context, q Query) ([]T, error) {
	q.Collection = c.name
	raws, err := c.cache.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		e, err := c.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Oldest returns the cursor of the oldest live entity of scope.
func (c *Collection[T]) Oldest(ctx context.Context, scope string) (models.Cursor, bool, error) {
	items, err := c.Query(ctx, Query{Scope: scope, Limit: 1, Ascending: true})
	if err != nil || len(items) == 0 {
		return models.Cursor{}, false, err
	}
	return models.CursorOf(items[0]), true, nil
}

// Clone returns a deep copy of e.
func (c *Collection[T]) Clone(e T) (T, error) {
	return c.WithID(e, e.EntityID())
}

// WithID returns a copy of e carrying id instead of its own.
func (c *Collection[T]) WithID(e T, id string) (T, error) {
	var zero T
	payload, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("encode %s %s: %w", c.name, e.EntityID(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return zero, fmt.Errorf("rekey %s %s: %w", c.name, e.EntityID(), err)
	}
	fields["id"], _ = json.Marshal(id)
	payload, err = json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("rekey %s %s: %w", c.name, e.EntityID(), err)
	}
	out := c.newT()
	if err := json.Unmarshal(payload, out); err != nil {
		return zero, fmt.Errorf("rekey %s %s: %w", c.name, e.EntityID(), err)
	}
	out.SetPending(e.IsPending())
	return out, nil
}
