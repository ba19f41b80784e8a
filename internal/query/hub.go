package query

import (
	"log"
	"sync"

	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// waker is notified when a committed write touches its key.
type waker interface {
	wake()
}

// Hub fans the cache change feed out to live queries.
type Hub struct {
	cache   storage.Cache
	verbose bool

	mu          sync.Mutex
	observers   map[Key]map[waker]struct{}
	count       int
	closed      bool
	unsubscribe func()
}

// NewHub creates a hub subscribed to cache's change feed.
func NewHub(cache storage.Cache) *Hub {
	h := &Hub{
		cache:     cache,
		observers: make(map[Key]map[waker]struct{}),
	}
	h.unsubscribe = cache.Subscribe(h.onChange)
	return h
}

// SetVerbose enables verbose logging.
func (h *Hub) SetVerbose(v bool) {
	h.verbose = v
}

// Cache returns the cache the hub reads from.
func (h *Hub) Cache() storage.Cache {
	return h.cache
}

// Observers returns the number of open live queries.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Close detaches the hub from the cache. Open live queries stop receiving updates.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.unsubscribe()
}

// onChange runs synchronously after each commit, so wakes happen in commit order.
func (h *Hub) onChange(change storage.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sk := range change.Keys {
		for w := range h.observers[Key{Collection: sk.Collection, Scope: sk.Scope}] {
			w.wake()
		}
	}
}

func (h *Hub) add(key Key, w waker) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.observers[key]
	if !ok {
		set = make(map[waker]struct{})
		h.observers[key] = set
	}
	set[w] = struct{}{}
	h.count++
	metrics.QueryObservers.Inc()
	h.logf("observe %s (%d open)", key, h.count)
	return true
}

func (h *Hub) remove(key Key, w waker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.observers[key]
	if !ok {
		return
	}
	if _, ok := set[w]; !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(h.observers, key)
	}
	h.count--
	metrics.QueryObservers.Dec()
	h.logf("release %s (%d open)", key, h.count)
}

func (h *Hub) logf(format string, args ...interface{}) {
	if h.verbose {
		log.Printf("[query] "+format, args...)
	}
}
