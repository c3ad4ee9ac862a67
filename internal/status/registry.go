// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
registry.go - In-Flight Fetch Status Registry

Tracks per (client, period) fetch state so operators can see what is running,
what settled, and what got stuck. Entries move through
untracked -> in progress (StartFetch) -> settled (CompleteFetch) -> removed.
Settled entries stay visible for a short grace window; a periodic sweep
removes anything older than the TTL regardless of state, warning when it
reaps an entry still in progress since that points at an abandoned
operation. An operator can force-expire a stuck in-progress entry directly.

The registry is purely in-memory. A hard entry ceiling evicts the oldest
entries on insert so a misbehaving caller cannot grow it without bound.
*/
package status

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
)

// Registry tracks fetch status per lock key. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*models.FetchStatus

	ttl         time.Duration
	sweepEvery  time.Duration
	graceWindow time.Duration
	maxEntries  int

	now func() time.Time
}

// NewRegistry builds a registry from configuration.
func NewRegistry(cfg *config.StatusConfig) *Registry {
	return &Registry{
		entries:     make(map[string]*models.FetchStatus),
		ttl:         cfg.TTL,
		sweepEvery:  cfg.SweepInterval,
		graceWindow: cfg.GraceWindow,
		maxEntries:  cfg.MaxEntries,
		now:         time.Now,
	}
}

// StartFetch marks a (client, period) fetch as in progress. Re-starting an
// already tracked key overwrites it; the newest operation wins.
func (r *Registry) StartFetch(clientID, timePeriod string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictForCapacityLocked()
	r.entries[models.LockKey(clientID, timePeriod)] = &models.FetchStatus{
		ClientID:        clientID,
		TimePeriod:      timePeriod,
		InProgress:      true,
		StartedAt:       now,
		LastRefreshedAt: now,
	}
	metrics.RegistryEntries.Set(float64(len(r.entries)))
}

// CompleteFetch settles an in-progress entry. Unknown keys are ignored; the
// sweep may already have reaped a slow operation's entry.
func (r *Registry) CompleteFetch(clientID, timePeriod string, success bool, dataType models.GranularityKind, fetchErr error) {
	now := r.now()
	key := models.LockKey(clientID, timePeriod)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return
	}
	entry.InProgress = false
	entry.LastRefreshedAt = now
	entry.DataType = dataType
	if fetchErr != nil {
		entry.Error = fetchErr.Error()
	} else if !success {
		entry.Error = "fetch failed"
	}
}

// GetStatus returns a copy of the entry for one (client, period), or nil
// when untracked.
func (r *Registry) GetStatus(clientID, timePeriod string) *models.FetchStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[models.LockKey(clientID, timePeriod)]
	if !ok {
		return nil
	}
	cp := *entry
	return &cp
}

// GetClientStatuses returns copies of every tracked entry for a client.
func (r *Registry) GetClientStatuses(clientID string) []models.FetchStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.FetchStatus
	for _, entry := range r.entries {
		if entry.ClientID == clientID {
			out = append(out, *entry)
		}
	}
	return out
}

// ForceExpireFetch settles a stuck in-progress entry on operator request.
// Returns false (no-op) when the key is untracked or already settled.
func (r *Registry) ForceExpireFetch(clientID, timePeriod string) bool {
	key := models.LockKey(clientID, timePeriod)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || !entry.InProgress {
		return false
	}

	entry.InProgress = false
	entry.LastRefreshedAt = r.now()
	entry.Error = "Force expired by operator"
	metrics.RegistryEvictions.WithLabelValues("force").Inc()

	logging.Warn().
		Str("client_id", clientID).
		Str("period", timePeriod).
		Time("started_at", entry.StartedAt).
		Msg("Force expired in-progress fetch")
	return true
}

// GetStats summarizes the registry for operators.
func (r *Registry) GetStats() models.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.RegistryStats{TotalTracked: len(r.entries)}
	for _, entry := range r.entries {
		if entry.LastRefreshedAt.After(stats.LastActivity) {
			stats.LastActivity = entry.LastRefreshedAt
		}
		if entry.InProgress {
			stats.InProgress++
			if stats.OldestInProgressFrom.IsZero() || entry.StartedAt.Before(stats.OldestInProgressFrom) {
				stats.OldestInProgressFrom = entry.StartedAt
			}
		}
	}
	return stats
}

// Sweep removes settled entries past the grace window and any entry older
// than the TTL regardless of state. Returns how many entries were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entry := range r.entries {
		switch {
		case now.Sub(entry.StartedAt) > r.ttl:
			if entry.InProgress {
				logging.Warn().
					Str("client_id", entry.ClientID).
					Str("period", entry.TimePeriod).
					Time("started_at", entry.StartedAt).
					Msg("Reaping in-progress fetch older than TTL, operation likely abandoned")
			}
			delete(r.entries, key)
			metrics.RegistryEvictions.WithLabelValues("ttl").Inc()
			removed++
		case !entry.InProgress && now.Sub(entry.LastRefreshedAt) > r.graceWindow:
			delete(r.entries, key)
			metrics.RegistryEvictions.WithLabelValues("grace").Inc()
			removed++
		}
	}
	metrics.RegistryEntries.Set(float64(len(r.entries)))
	return removed
}

// evictForCapacityLocked drops oldest entries until there is room for one
// more. Caller holds the write lock.
func (r *Registry) evictForCapacityLocked() {
	if r.maxEntries <= 0 {
		return
	}
	for len(r.entries) >= r.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for key, entry := range r.entries {
			if oldestKey == "" || entry.StartedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.StartedAt
			}
		}
		delete(r.entries, oldestKey)
		metrics.RegistryEvictions.WithLabelValues("capacity").Inc()
		logging.Warn().
			Str("key", oldestKey).
			Int("max_entries", r.maxEntries).
			Msg("Registry at capacity, evicted oldest entry")
	}
}

// Sweeper runs the registry sweep on a fixed interval. Implements
// suture.Service; the supervisor restarts it if it ever returns early.
type Sweeper struct {
	registry *Registry
}

// NewSweeper wraps a registry.
func NewSweeper(registry *Registry) *Sweeper {
	return &Sweeper{registry: registry}
}

// Serve loops until the context is canceled.
func (s *Sweeper) Serve(ctx context.Context) error {
	interval := s.registry.sweepEvery
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Debug().Dur("interval", interval).Msg("Status registry sweeper started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := s.registry.Sweep(); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Status registry sweep")
			}
		}
	}
}

func (s *Sweeper) String() string { return "status-sweeper" }
