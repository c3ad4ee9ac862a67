// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package status

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(&config.StatusConfig{
		TTL:           30 * time.Minute,
		SweepInterval: 5 * time.Minute,
		GraceWindow:   2 * time.Minute,
		MaxEntries:    100,
	})
}

// advance pins the registry clock and moves it forward.
func advance(r *Registry, base time.Time, by time.Duration) {
	r.now = func() time.Time { return base.Add(by) }
}

func TestStartAndCompleteFetch(t *testing.T) {
	r := testRegistry(t)

	r.StartFetch("client-1", "2025-07")
	got := r.GetStatus("client-1", "2025-07")
	if got == nil {
		t.Fatal("expected tracked status after StartFetch")
	}
	if !got.InProgress {
		t.Error("status should be in progress")
	}

	r.CompleteFetch("client-1", "2025-07", true, models.GranularityDaily, nil)
	got = r.GetStatus("client-1", "2025-07")
	if got.InProgress {
		t.Error("status should be settled")
	}
	if got.DataType != models.GranularityDaily {
		t.Errorf("data type = %s, want daily", got.DataType)
	}
	if got.Error != "" {
		t.Errorf("error = %q, want empty on success", got.Error)
	}
}

func TestCompleteFetchRecordsError(t *testing.T) {
	r := testRegistry(t)
	r.StartFetch("client-1", "2025-07")
	r.CompleteFetch("client-1", "2025-07", false, models.GranularityNone, errors.New("API returned 500"))

	got := r.GetStatus("client-1", "2025-07")
	if got.Error != "API returned 500" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestCompleteFetchUntrackedIsNoop(t *testing.T) {
	r := testRegistry(t)
	r.CompleteFetch("client-1", "2025-07", true, models.GranularityDaily, nil)
	if got := r.GetStatus("client-1", "2025-07"); got != nil {
		t.Errorf("untracked complete should not create an entry, got %+v", got)
	}
}

func TestGetStatusUntracked(t *testing.T) {
	r := testRegistry(t)
	if got := r.GetStatus("client-1", "2025-07"); got != nil {
		t.Errorf("expected nil for untracked key, got %+v", got)
	}
}

func TestGetClientStatuses(t *testing.T) {
	r := testRegistry(t)
	r.StartFetch("client-1", "2025-07")
	r.StartFetch("client-1", "2025-06")
	r.StartFetch("client-2", "2025-07")

	got := r.GetClientStatuses("client-1")
	if len(got) != 2 {
		t.Fatalf("statuses = %d, want 2", len(got))
	}
	for _, s := range got {
		if s.ClientID != "client-1" {
			t.Errorf("leaked status for %s", s.ClientID)
		}
	}
}

func TestForceExpireFetch(t *testing.T) {
	r := testRegistry(t)

	if r.ForceExpireFetch("client-1", "2025-07") {
		t.Error("untracked key should return false")
	}

	r.StartFetch("client-1", "2025-07")
	if !r.ForceExpireFetch("client-1", "2025-07") {
		t.Fatal("in-progress key should return true")
	}

	got := r.GetStatus("client-1", "2025-07")
	if got.InProgress {
		t.Error("forced entry should no longer be in progress")
	}
	if !strings.Contains(got.Error, "Force expired") {
		t.Errorf("error = %q, want to mention Force expired", got.Error)
	}

	// Already settled: a second force is a no-op.
	if r.ForceExpireFetch("client-1", "2025-07") {
		t.Error("settled key should return false")
	}
}

func TestSweepRemovesSettledAfterGrace(t *testing.T) {
	r := testRegistry(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	r.StartFetch("client-1", "2025-07")
	r.CompleteFetch("client-1", "2025-07", true, models.GranularityMonthly, nil)

	advance(r, base, time.Minute)
	if removed := r.Sweep(); removed != 0 {
		t.Errorf("sweep inside grace window removed %d", removed)
	}

	advance(r, base, 3*time.Minute)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("sweep past grace window removed %d, want 1", removed)
	}
	if got := r.GetStatus("client-1", "2025-07"); got != nil {
		t.Errorf("entry should be gone, got %+v", got)
	}
}

func TestSweepReapsAbandonedInProgress(t *testing.T) {
	r := testRegistry(t)
	base := time.Now()
	r.now = func() time.Time { return base }

	r.StartFetch("client-1", "2025-07")

	// In progress and inside TTL: untouched.
	advance(r, base, 10*time.Minute)
	if removed := r.Sweep(); removed != 0 {
		t.Errorf("sweep inside TTL removed %d", removed)
	}

	// Past TTL: reaped even though still in progress.
	advance(r, base, 31*time.Minute)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("sweep past TTL removed %d, want 1", removed)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	r := NewRegistry(&config.StatusConfig{
		TTL:         30 * time.Minute,
		GraceWindow: 2 * time.Minute,
		MaxEntries:  3,
	})
	base := time.Now()
	for i, period := range []string{"2025-01", "2025-02", "2025-03", "2025-04"} {
		offset := time.Duration(i) * time.Minute
		r.now = func() time.Time { return base.Add(offset) }
		r.StartFetch("client-1", period)
	}

	if got := r.GetStatus("client-1", "2025-01"); got != nil {
		t.Errorf("oldest entry should be evicted, got %+v", got)
	}
	if got := r.GetStatus("client-1", "2025-04"); got == nil {
		t.Error("newest entry should be tracked")
	}
	if stats := r.GetStats(); stats.TotalTracked != 3 {
		t.Errorf("tracked = %d, want 3", stats.TotalTracked)
	}
}

func TestGetStats(t *testing.T) {
	r := testRegistry(t)
	base := time.Now()

	r.now = func() time.Time { return base }
	r.StartFetch("client-1", "2025-06")

	r.now = func() time.Time { return base.Add(time.Minute) }
	r.StartFetch("client-1", "2025-07")

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	r.CompleteFetch("client-1", "2025-07", true, models.GranularityDaily, nil)

	stats := r.GetStats()
	if stats.TotalTracked != 2 {
		t.Errorf("tracked = %d, want 2", stats.TotalTracked)
	}
	if stats.InProgress != 1 {
		t.Errorf("in progress = %d, want 1", stats.InProgress)
	}
	if !stats.OldestInProgressFrom.Equal(base) {
		t.Errorf("oldest in-progress = %v, want %v", stats.OldestInProgressFrom, base)
	}
	if !stats.LastActivity.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("last activity = %v", stats.LastActivity)
	}
}
