package mutation

import (
	"context"
	"errors"
	"log"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// lookup loads a live entity or fails with a ValidationError.
func lookup[T models.Entity](ctx context.Context, coll *storage.Collection[T], op, id string) (T, error) {
	e, ok, err := coll.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, apperr.Cache(op, err)
	}
	if !ok {
		var zero T
		return zero, apperr.Validation(op, "%s %s not found", coll.Name(), id)
	}
	return e, nil
}

// create applies e and any extra rows as one pending batch, then sends e
// to the remote. A failed create is rolled back.
func create[T models.Entity](m *Mutator, ctx context.Context, cmd Command, coll *storage.Collection[T], rc remote.Collection[T], e T, extra ...storage.Row) error {
	op := cmd.CommandName()
	e.SetPending(true)
	row, err := coll.RowOf(e)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if err := m.apply(ctx, &storage.Batch{Upserts: append([]storage.Row{row}, extra...)}); err != nil {
		return err
	}

	key := coll.Key(e.EntityID())
	pending := m.beginCreate(key)
	m.dispatch(cmd, func(ctx context.Context) (err error) {
		var id string
		// Deletes chained onto this create wait until the cache is reconciled.
		defer func() { m.endCreate(key, pending, id, err) }()

		id, err = rc.Create(ctx, e)
		if err != nil {
			m.reconcile(&storage.Batch{Purges: []storage.RowKey{key}})
			return apperr.Mutation(op, coll.Name(), e.EntityID(), cmd, err)
		}
		b, berr := confirmCreated(ctx, coll, e, id)
		if berr != nil {
			log.Printf("[mutation] %s: %v", op, berr)
			return nil
		}
		m.reconcile(b)
		return nil
	})
	return nil
}

// confirmCreated builds the batch that marks e as accepted under the id the
// remote assigned, re-keying the local row when the ids differ.
func confirmCreated[T models.Entity](ctx context.Context, coll *storage.Collection[T], e T, id string) (*storage.Batch, error) {
	localID := e.EntityID()
	if id == "" || id == localID {
		return &storage.Batch{Confirms: []storage.RowKey{coll.Key(localID)}}, nil
	}

	// Deleted locally while the create was in flight.
	if _, ok, err := coll.Get(ctx, localID); err != nil || !ok {
		return &storage.Batch{}, err
	}

	rekeyed, err := coll.WithID(e, id)
	if err != nil {
		return nil, err
	}
	rekeyed.SetPending(false)
	row, err := coll.RowOf(rekeyed)
	if err != nil {
		return nil, err
	}
	return &storage.Batch{
		Upserts: []storage.Row{row},
		Purges:  []storage.RowKey{coll.Key(localID)},
	}, nil
}

// update applies modify to a copy of the cached entity and sends the result
// to the remote. authorize sees the current state first. modify reports
// whether anything changed; unchanged commands write nothing. A failed
// update restores the previous row.
func update[T models.Entity](m *Mutator, ctx context.Context, cmd Command, coll *storage.Collection[T], rc remote.Collection[T], id string,
	authorize func(current T) error, modify func(next T) (bool, error)) error {
	op := cmd.CommandName()
	prev, err := lookup(ctx, coll, op, id)
	if err != nil {
		return err
	}
	if authorize != nil {
		if err := authorize(prev); err != nil {
			return err
		}
	}

	next, err := coll.Clone(prev)
	if err != nil {
		return apperr.Cache(op, err)
	}
	changed, err := modify(next)
	if err != nil || !changed {
		return err
	}

	prevRow, err := coll.RowOf(prev)
	if err != nil {
		return apperr.Cache(op, err)
	}
	next.SetPending(true)
	row, err := coll.RowOf(next)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if err := m.apply(ctx, &storage.Batch{Upserts: []storage.Row{row}}); err != nil {
		return err
	}

	m.dispatch(cmd, func(ctx context.Context) error {
		if err := rc.Update(ctx, next); err != nil {
			m.reconcile(&storage.Batch{Upserts: []storage.Row{prevRow}})
			return apperr.Mutation(op, coll.Name(), id, cmd, err)
		}
		m.reconcile(&storage.Batch{Confirms: []storage.RowKey{coll.Key(id)}})
		return nil
	})
	return nil
}

// remove tombstones e and deletes it on the remote. A failed delete clears
// the tombstone's pending flag and resyncs the scope so the row comes back.
// Removing a row whose create has not been answered waits for that create
// and deletes the entity under the id the remote assigned.
func remove[T models.Entity](m *Mutator, ctx context.Context, cmd Command, coll *storage.Collection[T], rc remote.Collection[T], e T) error {
	op := cmd.CommandName()
	id, scope := e.EntityID(), e.ScopeKey()
	key := coll.Key(id)
	pending := m.inflightCreate(key)
	if err := m.apply(ctx, &storage.Batch{Deletes: []storage.RowKey{key}}); err != nil {
		return err
	}

	m.dispatch(cmd, func(ctx context.Context) error {
		remoteID := id
		if pending != nil {
			select {
			case <-pending.done:
			case <-ctx.Done():
				m.reconcile(&storage.Batch{Restores: []storage.RowKey{key}})
				m.requestResync(coll.Name(), scope)
				return apperr.Mutation(op, coll.Name(), id, cmd, ctx.Err())
			}
			if pending.err != nil {
				// Never created remotely; the failed create already purged the row.
				m.reconcile(&storage.Batch{Purges: []storage.RowKey{key}})
				return nil
			}
			if pending.id != "" {
				remoteID = pending.id
			}
		}

		purges := []storage.RowKey{key}
		if remoteID != id {
			purges = append(purges, coll.Key(remoteID))
		}
		err := rc.Delete(ctx, remoteID)
		if err == nil || errors.Is(err, remote.ErrNotFound) {
			m.reconcile(&storage.Batch{Purges: purges})
			return nil
		}
		if remoteID != id {
			// The local id is unknown remotely; the resync brings back the remote row.
			m.reconcile(&storage.Batch{Purges: []storage.RowKey{key}})
		} else {
			m.reconcile(&storage.Batch{Restores: []storage.RowKey{key}})
		}
		m.requestResync(coll.Name(), scope)
		return apperr.Mutation(op, coll.Name(), remoteID, cmd, err)
	})
	return nil
}
