package queue

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultPollTimeout = 2 * time.Second
)

// Handler processes one job. A non-nil error triggers a retry.
type Handler func(ctx context.Context, job Job) error

// Worker drains the queue with a blocking pop loop. Failed jobs are retried
// with linear backoff up to maxAttempts, then moved to the failed list.
type Worker struct {
	queue       *Queue
	handler     Handler
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// NewWorker constructs a worker over the queue.
func NewWorker(queue *Queue, handler Handler) *Worker {
	return &Worker{
		queue:       queue,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// Run processes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	log.Info("queue worker started")
	for {
		if ctx.Err() != nil {
			log.Info("queue worker stopped")
			return
		}

		job, err := w.queue.Dequeue(ctx, defaultPollTimeout)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("queue worker stopped")
				return
			}
			log.WithError(err).Warn("queue worker: dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	err := w.handler(ctx, job)
	if err == nil {
		return
	}

	job.Attempts++
	fields := log.Fields{"sid": job.MessageSID, "attempts": job.Attempts}
	if job.Attempts >= w.maxAttempts {
		log.WithError(err).WithFields(fields).Error("queue worker: job failed permanently")
		if failErr := w.queue.Fail(ctx, job); failErr != nil {
			log.WithError(failErr).WithFields(fields).Error("queue worker: record failed job")
		}
		return
	}

	log.WithError(err).WithFields(fields).Warn("queue worker: job failed, retrying")
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.backoff(job.Attempts)):
	}
	if requeueErr := w.queue.Enqueue(ctx, job); requeueErr != nil {
		log.WithError(requeueErr).WithFields(fields).Error("queue worker: requeue failed")
	}
}
