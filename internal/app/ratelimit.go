package app

import (
	"sync"
	"time"

	"github.com/carelink/realtime/internal/core"
)

type rateKey struct {
	conn  core.ConnID
	event string
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

// WindowLimiter is a fixed-window per-connection, per-event-type throttle.
// The first limit events inside a window pass; the rest are dropped. It is
// the in-process core.RateStore; the redis adapter mirrors it for
// multi-node deployments.
type WindowLimiter struct {
	mu      sync.Mutex
	buckets map[rateKey]*rateBucket

	limit  int
	window time.Duration

	now func() time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		buckets: make(map[rateKey]*rateBucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *WindowLimiter) Allow(connID core.ConnID, event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := rateKey{conn: connID, event: event}
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &rateBucket{count: 1, windowStart: now}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

// Forget drops all buckets of a connection, called on disconnect so the map
// does not grow with connection churn.
func (l *WindowLimiter) Forget(connID core.ConnID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.buckets {
		if key.conn == connID {
			delete(l.buckets, key)
		}
	}
}
