// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package report

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/metricus/internal/models"
)

// reportFetcher is the subset of calls fetchBatch fans out over. Both the
// plain client and the circuit-breaker wrapper satisfy it, so batches issued
// through the wrapper get per-call breaker accounting.
type reportFetcher interface {
	FetchMainMetrics(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchTrafficSources(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
	FetchDeviceBreakdown(ctx context.Context, cred *models.PropertyCredential, start, end string) ([]Row, error)
}

// fetchBatch issues the three report calls concurrently and joins results.
// The first failure cancels the group's context and is returned; partial
// results are discarded.
func fetchBatch(ctx context.Context, f reportFetcher, cred *models.PropertyCredential, start, end string) (*BatchReport, error) {
	g, ctx := errgroup.WithContext(ctx)
	var batch BatchReport

	g.Go(func() error {
		rows, err := f.FetchMainMetrics(ctx, cred, start, end)
		batch.Main = rows
		return err
	})
	g.Go(func() error {
		rows, err := f.FetchTrafficSources(ctx, cred, start, end)
		batch.Traffic = rows
		return err
	})
	g.Go(func() error {
		rows, err := f.FetchDeviceBreakdown(ctx, cred, start, end)
		batch.Device = rows
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &batch, nil
}
