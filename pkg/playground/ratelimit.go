package playground

import (
	"sync"
	"time"
)

// maxTrackedClients bounds the limiter map; stale windows are dropped when it is reached.
const maxTrackedClients = 10000

type rateWindow struct {
	requests  int
	lastReset time.Time
}

// rateLimiter counts runs per client in fixed windows.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int // 0 disables the limiter
	window  time.Duration
	windows map[string]*rateWindow
	now     func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow records one request for key and reports whether it is within the limit.
func (rl *rateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok {
		if len(rl.windows) >= maxTrackedClients {
			rl.pruneLocked(now)
		}
		w = &rateWindow{lastReset: now}
		rl.windows[key] = w
	}
	if now.Sub(w.lastReset) > rl.window {
		w.requests = 0
		w.lastReset = now
	}
	w.requests++
	return w.requests <= rl.limit
}

func (rl *rateLimiter) pruneLocked(now time.Time) {
	for key, w := range rl.windows {
		if now.Sub(w.lastReset) > rl.window {
			delete(rl.windows, key)
		}
	}
}
