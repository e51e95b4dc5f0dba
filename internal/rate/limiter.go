package rate

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Window counts events per key over a sliding window of whole seconds. Memory
// is bounded: once capacity keys are tracked the least recently used key is
// evicted.
type Window struct {
	mu      sync.Mutex
	window  int // seconds
	cap     int
	items   map[string]*list.Element
	lru     *list.List   // front = most recently used
	nowFunc func() int64 // for tests; defaults to time.Now().Unix()
}

type windowEntry struct {
	key     string
	lastSec int64
	buckets []uint16 // len == window; counts per second, tail = lastSec
}

// NewWindow creates a 10k-capacity counter with the given window in seconds.
func NewWindow(window int) *Window {
	return NewWindowWithCapacity(window, 10000)
}

func NewWindowWithCapacity(window, capacity int) *Window {
	if window <= 0 {
		window = 60
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Window{
		window:  window,
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: func() int64 { return time.Now().Unix() },
	}
}

// Add records one event for key and returns the number of events for key
// inside the window, including this one.
func (w *Window) Add(key string) int {
	now := w.nowFunc()
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		en := el.Value.(*windowEntry)
		w.advance(en, now)
		if en.buckets[w.window-1] < 65535 {
			en.buckets[w.window-1]++
		}
		w.lru.MoveToFront(el)
		return w.sum(en)
	}

	if n := w.lru.Len(); n >= w.cap {
		if n%1000 == 0 {
			log.Warn().Int("entries", n).Int("capacity", w.cap).Msg("rate window at capacity, evicting")
		}
		if back := w.lru.Back(); back != nil {
			delete(w.items, back.Value.(*windowEntry).key)
			w.lru.Remove(back)
		}
	}
	en := &windowEntry{key: key, lastSec: now, buckets: make([]uint16, w.window)}
	en.buckets[w.window-1] = 1
	w.items[key] = w.lru.PushFront(en)
	return 1
}

// Count returns the events for key inside the window without recording one.
func (w *Window) Count(key string) int {
	now := w.nowFunc()
	w.mu.Lock()
	defer w.mu.Unlock()
	el, ok := w.items[key]
	if !ok {
		return 0
	}
	en := el.Value.(*windowEntry)
	w.advance(en, now)
	return w.sum(en)
}

// Reset forgets key.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.items[key]; ok {
		delete(w.items, key)
		w.lru.Remove(el)
	}
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lru.Len()
}

// advance shifts the per-second buckets forward to now.
func (w *Window) advance(en *windowEntry, now int64) {
	if now <= en.lastSec {
		return
	}
	diff := now - en.lastSec
	en.lastSec = now
	if diff >= int64(w.window) {
		clear(en.buckets)
		return
	}
	shift := int(diff)
	copy(en.buckets, en.buckets[shift:])
	clear(en.buckets[w.window-shift:])
}

func (w *Window) sum(en *windowEntry) int {
	n := 0
	for _, b := range en.buckets {
		n += int(b)
	}
	return n
}

// Limiter allows at most Max events per key per window.
type Limiter struct {
	w   *Window
	max int
}

// NewLimiter returns a limiter; max <= 0 disables limiting.
func NewLimiter(max, windowSec int) *Limiter {
	return &Limiter{w: NewWindow(windowSec), max: max}
}

// Allow records an attempt for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.max <= 0 {
		return true
	}
	return l.w.Add(key) <= l.max
}

// Reset clears key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.w.Reset(key)
}
