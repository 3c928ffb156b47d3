// Package highlight tracks keys that changed recently. A mark decays after
// a fixed window; re-marking a key restarts its window.
package highlight

import (
	"sync"
	"time"
)

// DefaultWindow is how long a key stays marked.
const DefaultWindow = 3 * time.Second

type mark struct {
	gen   uint64
	timer *time.Timer
}

// Tracker holds the set of recently changed keys.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	marks  map[string]*mark
	gen    uint64
	closed bool
}

// New returns a Tracker. A non-positive window uses DefaultWindow.
func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, marks: make(map[string]*mark)}
}

// Mark flags key as recently changed, replacing any pending expiry.
func (t *Tracker) Mark(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if m, ok := t.marks[key]; ok {
		m.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.marks[key] = &mark{
		gen:   gen,
		timer: time.AfterFunc(t.window, func() { t.expire(key, gen) }),
	}
}

// IsRecent reports whether key was marked within the window.
func (t *Tracker) IsRecent(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.marks[key]
	return ok
}

// Keys returns the currently marked keys in no particular order.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.marks))
	for k := range t.marks {
		out = append(out, k)
	}
	return out
}

// Close stops every pending timer and clears all marks. Later calls to
// Mark are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.marks {
		m.timer.Stop()
	}
	clear(t.marks)
	t.closed = true
}

// expire removes key only if it still belongs to the marking that
// scheduled this timer.
func (t *Tracker) expire(key string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.marks[key]; ok && m.gen == gen {
		delete(t.marks, key)
	}
}
