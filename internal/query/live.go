package query

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// Live is one observer's stream of snapshots. Each Live owns its goroutine,
// channel and state; observers of the same key do not share anything.
type Live[T models.Entity] struct {
	hub    *Hub
	coll   *storage.Collection[T]
	spec   Spec
	filter *Filter

	out     chan Snapshot[T]
	mailbox chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	last uint64
}

// Observe opens a live query. The first snapshot, read from whatever the cache
// holds now, is already on Updates() when Observe returns. Later snapshots
// follow each commit that touches the key, in commit order. Snapshots that
// land while the consumer is busy are coalesced and identical consecutive
// results are not re-emitted.
func Observe[T models.Entity](ctx context.Context, hub *Hub, coll *storage.Collection[T], spec Spec) (*Live[T], error) {
	if spec.Key.Collection == "" {
		spec.Key.Collection = coll.Name()
	}
	if spec.Key.Collection != coll.Name() {
		return nil, apperr.Validation("observe", "key %s does not belong to collection %s", spec.Key, coll.Name())
	}

	var filter *Filter
	if spec.Filter != "" {
		f, err := NewFilter(spec.Filter, coll.New())
		if err != nil {
			return nil, apperr.Validation("observe", "%v", err)
		}
		filter = f
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Live[T]{
		hub:     hub,
		coll:    coll,
		spec:    spec,
		filter:  filter,
		out:     make(chan Snapshot[T], 1),
		mailbox: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// Register before the first read so no commit slips between the two.
	if !hub.add(spec.Key, l) {
		cancel()
		return nil, fmt.Errorf("observe %s: hub closed", spec.Key)
	}

	snap, digest := l.read(ctx)
	l.last = digest
	l.out <- snap
	metrics.QueryEmissions.WithLabelValues(string(spec.Key.Collection)).Inc()

	go l.run(ctx)
	return l, nil
}

// Updates returns the snapshot channel. It is closed when the query stops.
func (l *Live[T]) Updates() <-chan Snapshot[T] {
	return l.out
}

// Key returns the observed key.
func (l *Live[T]) Key() Key {
	return l.spec.Key
}

// Close stops the query and waits for its goroutine to exit.
func (l *Live[T]) Close() {
	l.cancel()
	<-l.done
}

func (l *Live[T]) wake() {
	select {
	case l.mailbox <- struct{}{}:
	default:
	}
}

func (l *Live[T]) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.out)
	defer l.hub.remove(l.spec.Key, l)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.mailbox:
		}

		snap, digest := l.read(ctx)
		if ctx.Err() != nil {
			return
		}
		if digest == l.last {
			continue
		}

		select {
		case l.out <- snap:
			l.last = digest
			metrics.QueryEmissions.WithLabelValues(string(l.spec.Key.Collection)).Inc()
		case <-ctx.Done():
			return
		}
	}
}

// read evaluates the query. Read failures are logged and yield an empty result.
func (l *Live[T]) read(ctx context.Context) (Snapshot[T], uint64) {
	cache := l.hub.Cache()
	snap := Snapshot[T]{Items: []T{}, Version: cache.Version()}

	// A limited window is read newest first so later rows displace older ones.
	window := l.spec.Ascending && l.spec.Limit > 0
	q := storage.Query{
		Collection: l.spec.Key.Collection,
		Scope:      l.spec.Key.Scope,
		Ascending:  l.spec.Ascending && !window,
	}
	if l.filter == nil {
		q.Limit = l.spec.Limit
	}

	raws, err := cache.Query(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[query] read %s failed: %v", l.spec.Key, err)
			metrics.CacheReadErrors.WithLabelValues(string(l.spec.Key.Collection)).Inc()
		}
		return snap, xxhash.Sum64(nil)
	}

	h := xxhash.New()
	for _, raw := range raws {
		if l.spec.Limit > 0 && len(snap.Items) >= l.spec.Limit {
			break
		}
		if l.filter != nil {
			ok, err := l.filter.Match(raw.Payload, raw.Pending)
			if err != nil {
				log.Printf("[query] filter %s on %s: %v", l.spec.Key, raw.ID, err)
				continue
			}
			if !ok {
				continue
			}
		}
		item, err := l.coll.Decode(raw)
		if err != nil {
			log.Printf("[query] %v", err)
			continue
		}
		snap.Items = append(snap.Items, item)

		h.WriteString(raw.ID)
		h.Write([]byte{0})
		h.Write(raw.Payload)
		if raw.Pending {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	if window {
		slices.Reverse(snap.Items)
	}
	return snap, h.Sum64()
}
