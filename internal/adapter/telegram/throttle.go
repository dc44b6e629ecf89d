package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle lets one message per key through per window.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
	now      func() time.Time
}

// NewThrottle creates a throttle with the given window. A zero window lets
// everything through.
func NewThrottle(window time.Duration) *Throttle {
	return &Throttle{limiters: make(map[string]*rate.Limiter), window: window, now: time.Now}
}

// Allow returns false if key was let through less than a window ago.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.window), 1)
		t.limiters[key] = l
	}
	return l.AllowN(t.now(), 1)
}
