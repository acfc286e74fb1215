// Package ratelimit enforces a fixed-window per-second limit on inbound
// webhook calls, keyed by sender number. Redis backs the limiter when
// configured so the window holds across replicas; otherwise an in-memory
// window applies per process.
package ratelimit

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
}
