package ratelimit

import (
	"sync"
	"time"
)

// MemoryLimiter counts hits per key within the current one-second window.
// The whole window resets at once when the second rolls over, so memory use
// is bounded by the number of distinct senders seen in a single second.
type MemoryLimiter struct {
	mu    sync.Mutex
	epoch int64
	hits  map[string]int
}

// NewMemoryLimiter constructs an empty in-process window.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{hits: make(map[string]int)}
}

// Allow counts one hit against the key and reports whether it stays within
// the limit for the second containing now.
func (l *MemoryLimiter) Allow(key string, limit int, now time.Time) Result {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sec := now.Unix(); sec != l.epoch {
		l.epoch = sec
		clear(l.hits)
	}
	l.hits[key]++
	count := l.hits[key]
	if count > limit {
		return Result{}
	}
	return Result{Allowed: true, Remaining: limit - count}
}
