// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
queue.go - Bounded Background Job Queue

Runs background work (sync runs, resyncs) on a fixed pool of workers with
priority ordering: higher priority first, FIFO within a priority. A failed
job goes to a capped-retry path instead of blocking the queue; a job that
exhausts its retries is dropped with a log line.

Submission never blocks: when the pending heap is full the job is rejected
so callers can surface backpressure instead of hanging.
*/
package jobs

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
)

// Priority levels. Higher runs first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// ErrQueueFull is returned when the pending heap is at capacity.
var ErrQueueFull = queueError("job queue full")

// ErrQueueClosed is returned for submissions after Stop.
var ErrQueueClosed = queueError("job queue closed")

type queueError string

func (e queueError) Error() string { return string(e) }

// Job is one unit of background work.
type Job struct {
	ID       string
	Name     string
	Priority int
	Fn       func(ctx context.Context) error

	attempts int
	seq      uint64
}

// jobHeap orders by priority descending, then submission order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// Queue is a bounded-concurrency priority job queue.
type Queue struct {
	mu      sync.Mutex
	pending jobHeap
	cond    *sync.Cond
	closed  bool

	workers    int
	maxPending int
	maxRetries int
	retryDelay time.Duration
	nextSeq    uint64

	wg sync.WaitGroup
}

// NewQueue builds a queue from configuration. Call Start to launch workers.
func NewQueue(cfg *config.JobsConfig) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	maxPending := cfg.QueueSize
	if maxPending <= 0 {
		maxPending = 256
	}

	q := &Queue{
		workers:    workers,
		maxPending: maxPending,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker pool. Workers exit when ctx is canceled and the
// pending heap drains, or immediately on Stop.
func (q *Queue) Start(ctx context.Context) {
	// Wake blocked workers when the context dies.
	go func() {
		<-ctx.Done()
		q.cond.Broadcast()
	}()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	logging.Info().Int("workers", q.workers).Msg("Job queue started")
}

// Stop closes the queue and waits for in-flight jobs to finish. Pending
// jobs that never started are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	q.cond.Broadcast()
	q.wg.Wait()

	if dropped > 0 {
		logging.Warn().Int("dropped", dropped).Msg("Job queue stopped with pending jobs")
	}
}

// Submit enqueues a job. Returns the job ID, or an error when the queue is
// full or closed.
func (q *Queue) Submit(name string, priority int, fn func(ctx context.Context) error) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}
	if len(q.pending) >= q.maxPending {
		return "", ErrQueueFull
	}

	job := &Job{
		ID:       uuid.New().String(),
		Name:     name,
		Priority: priority,
		Fn:       fn,
		seq:      q.nextSeq,
	}
	q.nextSeq++

	heap.Push(&q.pending, job)
	metrics.JobsQueued.Set(float64(len(q.pending)))
	q.cond.Signal()
	return job.ID, nil
}

// Pending reports how many jobs are waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// worker pulls and runs jobs until the queue closes.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		job := q.take(ctx)
		if job == nil {
			return
		}
		q.run(ctx, job)
	}
}

// take blocks until a job is available or the queue is done.
func (q *Queue) take(ctx context.Context) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 {
		if q.closed || ctx.Err() != nil {
			return nil
		}
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}

	job := heap.Pop(&q.pending).(*Job)
	metrics.JobsQueued.Set(float64(len(q.pending)))
	return job
}

// run executes one job, requeueing it at low priority on failure until its
// retries are spent.
func (q *Queue) run(ctx context.Context, job *Job) {
	err := job.Fn(ctx)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues("success").Inc()
		return
	}

	job.attempts++
	if job.attempts > q.maxRetries {
		metrics.JobsProcessed.WithLabelValues("failure").Inc()
		logging.Error().
			Err(err).
			Str("job_id", job.ID).
			Str("job", job.Name).
			Int("attempts", job.attempts).
			Msg("Job failed, retries exhausted")
		return
	}

	metrics.JobsProcessed.WithLabelValues("retry").Inc()
	logging.Warn().
		Err(err).
		Str("job_id", job.ID).
		Str("job", job.Name).
		Int("attempt", job.attempts).
		Msg("Job failed, requeueing")

	// A brief pause keeps a hot-failing job from monopolizing a worker.
	select {
	case <-time.After(q.retryDelay):
	case <-ctx.Done():
		return
	}

	q.mu.Lock()
	if !q.closed && len(q.pending) < q.maxPending {
		// Retries rejoin at low priority so fresh work runs first.
		job.Priority = PriorityLow
		job.seq = q.nextSeq
		q.nextSeq++
		heap.Push(&q.pending, job)
		metrics.JobsQueued.Set(float64(len(q.pending)))
		q.cond.Signal()
	}
	q.mu.Unlock()
}
