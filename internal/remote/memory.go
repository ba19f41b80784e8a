package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

const (
	defaultChangePageSize = 100
	subscriberBuffer      = 64
)

// record is the stored state of one entity.
type record struct {
	id      string
	scope   string
	payload []byte
	deleted bool
	stamp   models.Cursor
}

type subscriber[T models.Entity] struct {
	scope string
	ch    chan Event[T]
}

// Memory is an in-process authoritative backend. Every write gets a strictly
// increasing change stamp, deletes leave tombstones, and changes fan out to
// subscribers of the affected scope. Tests and the development server use its
// fault injection hooks.
type Memory[T models.Entity] struct {
	name models.Collection
	newT func() T

	mu        sync.Mutex
	records   map[string]*record
	subs      map[*subscriber[T]]struct{}
	lastStamp time.Time
	now       func() time.Time

	pageSize    int
	reassignIDs bool
	verbose     bool

	faultMu sync.Mutex
	fail    map[Op][]error
	holds   map[Op]chan struct{}
	calls   map[Op]int
}

// NewMemory creates an empty backend. newT must return a fresh zero entity.
func NewMemory[T models.Entity](name models.Collection, newT func() T) *Memory[T] {
	return &Memory[T]{
		name:     name,
		newT:     newT,
		records:  make(map[string]*record),
		subs:     make(map[*subscriber[T]]struct{}),
		now:      time.Now,
		pageSize: defaultChangePageSize,
		fail:     make(map[Op][]error),
		holds:    make(map[Op]chan struct{}),
		calls:    make(map[Op]int),
	}
}

// SetPageSize sets the maximum number of changes per FetchSince page.
func (m *Memory[T]) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

// SetReassignIDs makes Create ignore client ids and assign its own.
func (m *Memory[T]) SetReassignIDs(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reassignIDs = v
}

// SetVerbose enables verbose logging.
func (m *Memory[T]) SetVerbose(v bool) {
	m.verbose = v
}

// FailNext makes the next call of op return err. Calls queue in order.
func (m *Memory[T]) FailNext(op Op, err error) {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	m.fail[op] = append(m.fail[op], err)
}

// Hold blocks calls of op until the returned release func is called or the
// caller's context ends.
func (m *Memory[T]) Hold(op Op) (release func()) {
	gate := make(chan struct{})
	m.faultMu.Lock()
	m.holds[op] = gate
	m.faultMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.faultMu.Lock()
			if m.holds[op] == gate {
				delete(m.holds, op)
			}
			m.faultMu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op was invoked.
func (m *Memory[T]) Calls(op Op) int {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls across every operation.
func (m *Memory[T]) TotalCalls() int {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// enter records a call and applies any injected fault.
func (m *Memory[T]) enter(ctx context.Context, op Op) error {
	m.faultMu.Lock()
	m.calls[op]++
	gate := m.holds[op]
	var injected error
	if q := m.fail[op]; len(q) > 0 {
		injected = q[0]
		m.fail[op] = q[1:]
	}
	m.faultMu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

// Put stores items as remote-side writes, e.g. from another device.
func (m *Memory[T]) Put(items ...T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		if err := m.store(item); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes an entity as a remote-side write.
func (m *Memory[T]) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tombstone(id)
}

// Get returns the stored entity.
func (m *Memory[T]) Get(id string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	rec, ok := m.records[id]
	if !ok || rec.deleted {
		return zero, false
	}
	item, err := m.decode(rec.payload)
	if err != nil {
		return zero, false
	}
	return item, true
}

// Len returns the number of live entities.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if !rec.deleted {
			n++
		}
	}
	return n
}

// Subscribers returns the number of open subscriptions.
func (m *Memory[T]) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Disconnect breaks every open subscription.
func (m *Memory[T]) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		delete(m.subs, sub)
		close(sub.ch)
	}
}

// FetchSince implements Collection.
func (m *Memory[T]) FetchSince(ctx context.Context, scope string, since models.Cursor) (Page[T], error) {
	if err := m.enter(ctx, OpFetchSince); err != nil {
		return Page[T]{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []*record
	for _, rec := range m.records {
		if rec.scope == scope && since.Before(rec.stamp) {
			changed = append(changed, rec)
		}
	}
	sort.Slice(changed, func(i, j int) bool {
		return changed[i].stamp.Before(changed[j].stamp)
	})

	page := Page[T]{Items: []T{}, Next: since}
	if len(changed) > m.pageSize {
		changed = changed[:m.pageSize]
		page.HasMore = true
	}
	for _, rec := range changed {
		if rec.deleted {
			page.Deleted = append(page.Deleted, rec.id)
		} else {
			item, err := m.decode(rec.payload)
			if err != nil {
				return Page[T]{}, err
			}
			page.Items = append(page.Items, item)
		}
		page.Next = rec.stamp
	}
	return page, nil
}

// FetchBefore implements Collection.
func (m *Memory[T]) FetchBefore(ctx context.Context, scope string, before models.Cursor, limit int) ([]T, error) {
	if err := m.enter(ctx, OpFetchBefore); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var items []T
	for _, rec := range m.records {
		if rec.deleted || rec.scope != scope {
			continue
		}
		item, err := m.decode(rec.payload)
		if err != nil {
			return nil, err
		}
		if !before.IsZero() && !models.CursorOf(item).Before(before) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return models.CursorOf(items[j]).Before(models.CursorOf(items[i]))
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Create implements Collection.
func (m *Memory[T]) Create(ctx context.Context, item T) (string, error) {
	if err := m.enter(ctx, OpCreate); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := item.EntityID()
	if id == "" || m.reassignIDs {
		id = uuid.New().String()
	}
	if rec, ok := m.records[id]; ok && !rec.deleted {
		return "", fmt.Errorf("create %s %s: already exists", m.name, id)
	}

	payload, err := m.withID(item, id)
	if err != nil {
		return "", err
	}
	if err := m.storePayload(id, payload); err != nil {
		return "", err
	}
	m.logf("create %s", id)
	return id, nil
}

// Update implements Collection.
func (m *Memory[T]) Update(ctx context.Context, item T) error {
	if err := m.enter(ctx, OpUpdate); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[item.EntityID()]; !ok || rec.deleted {
		return fmt.Errorf("update %s %s: %w", m.name, item.EntityID(), ErrNotFound)
	}
	return m.store(item)
}

// Delete implements Collection.
func (m *Memory[T]) Delete(ctx context.Context, id string) error {
	if err := m.enter(ctx, OpDelete); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tombstone(id) {
		return fmt.Errorf("delete %s %s: %w", m.name, id, ErrNotFound)
	}
	return nil
}

// Subscribe implements Collection. A subscriber that falls behind is dropped
// and its channel closed.
func (m *Memory[T]) Subscribe(ctx context.Context, scope string) (<-chan Event[T], error) {
	if err := m.enter(ctx, OpSubscribe); err != nil {
		return nil, err
	}

	sub := &subscriber[T]{scope: scope, ch: make(chan Event[T], subscriberBuffer)}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[sub]; ok {
			delete(m.subs, sub)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

// store writes item. Callers hold m.mu.
func (m *Memory[T]) store(item T) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", m.name, item.EntityID(), err)
	}
	return m.storePayload(item.EntityID(), payload)
}

func (m *Memory[T]) storePayload(id string, payload []byte) error {
	item, err := m.decode(payload)
	if err != nil {
		return err
	}
	rec := &record{
		id:      id,
		scope:   item.ScopeKey(),
		payload: payload,
		stamp:   m.nextStamp(id),
	}
	m.records[id] = rec
	m.publish(rec.scope, Event[T]{Kind: EventUpsert, ID: id, Item: item, Cursor: rec.stamp})
	return nil
}

// tombstone marks id deleted. Callers hold m.mu.
func (m *Memory[T]) tombstone(id string) bool {
	rec, ok := m.records[id]
	if !ok || rec.deleted {
		return false
	}
	rec.deleted = true
	rec.stamp = m.nextStamp(id)
	m.publish(rec.scope, Event[T]{Kind: EventDelete, ID: id, Cursor: rec.stamp})
	m.logf("delete %s", id)
	return true
}

func (m *Memory[T]) nextStamp(id string) models.Cursor {
	t := m.now().UTC()
	if !t.After(m.lastStamp) {
		t = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = t
	return models.Cursor{Time: t, ID: id}
}

func (m *Memory[T]) publish(scope string, ev Event[T]) {
	for sub := range m.subs {
		if sub.scope != scope {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(m.subs, sub)
			close(sub.ch)
			log.Printf("[remote] %s subscriber for %q fell behind, dropped", m.name, scope)
		}
	}
}

func (m *Memory[T]) decode(payload []byte) (T, error) {
	item := m.newT()
	if err := json.Unmarshal(payload, item); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", m.name, err)
	}
	return item, nil
}

// withID encodes item with its id replaced.
func (m *Memory[T]) withID(item T, id string) ([]byte, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.name, err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.name, err)
	}
	fields["id"] = id
	return json.Marshal(fields)
}

func (m *Memory[T]) logf(format string, args ...interface{}) {
	if m.verbose {
		log.Printf("[remote] %s "+format, append([]interface{}{m.name}, args...)...)
	}
}
