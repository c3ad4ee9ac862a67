// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/metricus/internal/config"
)

func newTestQueue(workers int) *Queue {
	q := NewQueue(&config.JobsConfig{Workers: workers, QueueSize: 16, MaxRetries: 2})
	q.retryDelay = time.Millisecond
	return q
}

func TestQueueRunsJobs(t *testing.T) {
	q := newTestQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		_, err := q.Submit("work", PriorityNormal, func(context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	wg.Wait()

	if got := done.Load(); got != 10 {
		t.Errorf("completed jobs = %d, want 10", got)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	// One worker and a gate so everything queues before anything runs.
	q := newTestQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			defer wg.Done()
			<-gate
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	wg.Add(4)
	if _, err := q.Submit("low-1", PriorityLow, record("low-1")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("high", PriorityHigh, record("high")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("low-2", PriorityLow, record("low-2")); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Submit("normal", PriorityNormal, record("normal")); err != nil {
		t.Fatal(err)
	}

	q.Start(ctx)
	close(gate)
	wg.Wait()
	q.Stop()

	want := []string{"high", "normal", "low-1", "low-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s (full order %v)", i, order[i], want[i], order)
		}
	}
}

func TestQueueRetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	var attempts atomic.Int32
	done := make(chan struct{})
	_, err := q.Submit("flaky", PriorityNormal, func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestQueueDropsAfterRetryCap(t *testing.T) {
	q := newTestQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	var attempts atomic.Int32
	if _, err := q.Submit("doomed", PriorityNormal, func(context.Context) error {
		attempts.Add(1)
		return errors.New("permanent")
	}); err != nil {
		t.Fatal(err)
	}

	// Initial attempt + 2 retries, then dropped.
	deadline := time.After(5 * time.Second)
	for attempts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("attempts = %d, want 3", attempts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3 (retry cap)", got)
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := NewQueue(&config.JobsConfig{Workers: 1, QueueSize: 2, MaxRetries: 0})
	// Not started: jobs stay pending.

	for i := 0; i < 2; i++ {
		if _, err := q.Submit("filler", PriorityNormal, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	if _, err := q.Submit("overflow", PriorityNormal, func(context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueueRejectsAfterStop(t *testing.T) {
	q := newTestQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.Stop()

	if _, err := q.Submit("late", PriorityNormal, func(context.Context) error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueSlowJobDoesNotBlockOthers(t *testing.T) {
	q := newTestQueue(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	release := make(chan struct{})
	if _, err := q.Submit("slow", PriorityHigh, func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	fastDone := make(chan struct{})
	if _, err := q.Submit("fast", PriorityLow, func(context.Context) error {
		close(fastDone)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast job blocked behind slow job")
	}
	close(release)
}
