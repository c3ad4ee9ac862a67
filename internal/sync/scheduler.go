// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
)

// ClientLister enumerates the clients eligible for scheduled sync.
// Implemented by *database.DB.
type ClientLister interface {
	ListClientIDs(ctx context.Context) ([]string, error)
}

// Scheduler runs SmartFetch for every registered client on a fixed
// interval. Runs as a suture service; overlapping cycles are prevented by
// syncMu, so a slow cycle delays the next rather than stacking.
type Scheduler struct {
	orchestrator *Orchestrator
	clients      ClientLister
	interval     time.Duration

	syncMu sync.Mutex
}

// NewScheduler builds a scheduler from configuration.
func NewScheduler(orchestrator *Orchestrator, clients ClientLister, cfg *config.SyncConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		orchestrator: orchestrator,
		clients:      clients,
		interval:     interval,
	}
}

// Serve loops until the context is canceled. The first cycle runs after one
// full interval so startup is not dominated by a window-wide sync.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", s.interval).Msg("Sync scheduler started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle syncs every client sequentially. Per-client failures are already
// absorbed into each run result; the cycle itself only fails on listing.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	clientIDs, err := s.clients.ListClientIDs(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list clients for scheduled sync")
		return
	}

	started := time.Now()
	for _, clientID := range clientIDs {
		if ctx.Err() != nil {
			return
		}
		result := s.orchestrator.SmartFetch(ctx, clientID, 0, false)
		if !result.Success {
			logging.Warn().
				Str("client_id", clientID).
				Int("errors", len(result.Errors)).
				Msg("Scheduled sync finished with errors")
		}
	}

	logging.Info().
		Int("clients", len(clientIDs)).
		Dur("elapsed", time.Since(started)).
		Msg("Scheduled sync cycle complete")
}

func (s *Scheduler) String() string { return "sync-scheduler" }
