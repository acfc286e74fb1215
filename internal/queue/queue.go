// Package queue buffers inbound SMS jobs in a Redis list so the webhook can
// acknowledge Twilio immediately and processing happens off the request path.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one inbound message waiting to be processed.
type Job struct {
	MessageSID string    `json:"message_sid"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Attempts   int       `json:"attempts"`
}

// ErrEmpty is returned by Dequeue when no job arrived within the timeout.
var ErrEmpty = errors.New("queue: empty")

// Queue is a Redis-backed FIFO list. Producers LPUSH, the worker BRPOPs, and
// jobs that exhaust their retries land on a companion failed list.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New constructs a queue over the given list name.
func New(rdb *redis.Client, name string) *Queue {
	if name == "" {
		name = "incoming"
	}
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) key() string       { return "queue:" + q.name }
func (q *Queue) failedKey() string { return "queue:" + q.name + ":failed" }

// Enqueue pushes a job onto the list.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key(), payload).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, error) {
	values, err := q.rdb.BRPop(ctx, timeout, q.key()).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("queue: dequeue: %w", err)
	}
	if len(values) != 2 {
		return Job{}, fmt.Errorf("queue: unexpected brpop reply of %d values", len(values))
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return Job{}, fmt.Errorf("queue: decode job: %w", err)
	}
	return job, nil
}

// Fail records a job on the failed list for manual inspection.
func (q *Queue) Fail(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode failed job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.failedKey(), payload).Err(); err != nil {
		return fmt.Errorf("queue: record failure: %w", err)
	}
	return nil
}

// Len reports the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key()).Result()
}

// FailedLen reports the number of jobs on the failed list.
func (q *Queue) FailedLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.failedKey()).Result()
}
