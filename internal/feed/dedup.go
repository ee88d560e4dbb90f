package feed

import (
	"sync"
	"time"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Window remembers recently seen notification keys so that redeliveries
// are dropped. It is bounded both by capacity and by ttl, and is safe for
// concurrent use.
type Window struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	seen  map[domain.DedupKey]time.Time
	order []domain.DedupKey
	head  int
}

// NewWindow creates a Window holding at most capacity keys for at most ttl.
func NewWindow(capacity int, ttl time.Duration) *Window {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Window{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		seen:     make(map[domain.DedupKey]time.Time, capacity),
	}
}

// IsDuplicate returns true if key was seen within the window. Otherwise it
// records key and returns false.
func (w *Window) IsDuplicate(key domain.DedupKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)
	if _, ok := w.seen[key]; ok {
		return true
	}

	w.seen[key] = now
	w.order = append(w.order, key)
	for len(w.seen) > w.capacity {
		w.evictOldestLocked()
	}
	return false
}

// Len returns the number of remembered keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Cleanup drops expired keys.
func (w *Window) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
}

func (w *Window) expireLocked(now time.Time) {
	if w.ttl <= 0 {
		return
	}
	for w.head < len(w.order) {
		key := w.order[w.head]
		if now.Sub(w.seen[key]) < w.ttl {
			break
		}
		w.evictOldestLocked()
	}
}

func (w *Window) evictOldestLocked() {
	delete(w.seen, w.order[w.head])
	w.order[w.head] = domain.DedupKey{}
	w.head++
	if w.head > len(w.order)/2 {
		w.order = append([]domain.DedupKey(nil), w.order[w.head:]...)
		w.head = 0
	}
}
