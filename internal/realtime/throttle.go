package realtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle keeps one token bucket per key and forgets keys that have been
// idle for longer than ttl.
type throttle struct {
	mu     sync.Mutex
	every  time.Duration
	ttl    time.Duration
	keys   map[string]*throttleEntry
	lastGC time.Time
	now    func() time.Time
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newThrottle(every time.Duration) *throttle {
	return &throttle{
		every: every,
		ttl:   10 * every,
		keys:  make(map[string]*throttleEntry),
		now:   time.Now,
	}
}

// Allow reports whether key may emit now. A zero interval disables throttling.
func (t *throttle) Allow(key string) bool {
	if t.every <= 0 {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastGC) > t.ttl {
		for k, e := range t.keys {
			if now.Sub(e.lastSeen) > t.ttl {
				delete(t.keys, k)
			}
		}
		t.lastGC = now
	}

	e, ok := t.keys[key]
	if !ok {
		e = &throttleEntry{lim: rate.NewLimiter(rate.Every(t.every), 1)}
		t.keys[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (t *throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
