// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
orchestrator.go - Smart Sync Orchestration

Drives the full sync pipeline for a client: resolve credential, plan the
rolling period window, compare each period's target granularity against
what storage already holds, and fetch only what is missing or mis-grained.

Per period the decision table is:

	target  existing  action
	daily   daily     skip
	monthly monthly   skip
	monthly daily     fetch monthly, replace (down-sample)
	daily   monthly   fetch daily (upgrade)
	either  none      fetch per target
	any     any       forceRefresh always fetches

Periods are processed sequentially; the three reports inside one monthly
fetch fan out concurrently. A period's failure is recorded in the run
result and the run continues - one bad period never aborts the window.
Entry points return structured results, never errors.
*/
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/metrics"
	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/processor"
	"github.com/tomtom215/metricus/internal/report"
	"github.com/tomtom215/metricus/internal/status"
)

// RefreshedCategories names the downstream metric categories a successful
// complete resync rebuilds.
var RefreshedCategories = []string{
	"engagement_metrics",
	"traffic_channels",
	"device_distribution",
}

// CredentialProvider resolves a client to a usable property credential.
// Implemented by *auth.Coordinator.
type CredentialProvider interface {
	GetCredential(ctx context.Context, clientID string) (*models.PropertyCredential, error)
}

// MetricStorage is the storage surface the orchestrator drives.
// Implemented by *storage.Coordinator.
type MetricStorage interface {
	Store(ctx context.Context, clientID string, period models.DataPeriod, bundle *models.MetricBundle) error
	StoreDaily(ctx context.Context, clientID string, period models.DataPeriod, days []models.DayBundle) error
	CheckExisting(ctx context.Context, clientID string, periods []models.DataPeriod) (map[string][]models.ExistingDataStatus, error)
	ClearPeriod(ctx context.Context, clientID string, period models.DataPeriod) error
	ClearAll(ctx context.Context, clientID string) error
	ReplaceDailyWithMonthly(ctx context.Context, clientID string, period models.DataPeriod, bundle *models.MetricBundle) error
}

// CompletionPublisher receives a notification after each sync run. May be
// nil (publishing disabled).
type CompletionPublisher interface {
	SyncCompleted(ctx context.Context, clientID string, result *models.RunResult) error
}

// Orchestrator coordinates credential resolution, fetching, processing and
// storage for sync runs.
type Orchestrator struct {
	creds     CredentialProvider
	client    report.ClientInterface
	storage   MetricStorage
	registry  *status.Registry
	publisher CompletionPublisher
	cfg       *config.SyncConfig
	now       func() time.Time
}

// NewOrchestrator wires the sync pipeline. publisher may be nil.
func NewOrchestrator(
	creds CredentialProvider,
	client report.ClientInterface,
	storage MetricStorage,
	registry *status.Registry,
	publisher CompletionPublisher,
	cfg *config.SyncConfig,
) *Orchestrator {
	return &Orchestrator{
		creds:     creds,
		client:    client,
		storage:   storage,
		registry:  registry,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// PlanPeriods generates count consecutive calendar months ending at the
// month containing now, newest first. The most recent dailyCount periods
// target daily granularity, the rest monthly.
func PlanPeriods(now time.Time, count, dailyCount int) []models.DataPeriod {
	periods := make([]models.DataPeriod, 0, count)
	year, month, _ := now.UTC().Date()

	cursor := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		granularity := models.GranularityMonthly
		if i < dailyCount {
			granularity = models.GranularityDaily
		}
		periods = append(periods, models.DataPeriod{
			Year:        cursor.Year(),
			Month:       cursor.Month(),
			Granularity: granularity,
		})
		cursor = cursor.AddDate(0, -1, 0)
	}
	return periods
}

// periodAction is one decision-table outcome.
type periodAction int

const (
	actionSkip periodAction = iota
	actionFetchDaily
	actionFetchMonthly
	actionDownsample
	actionUpgrade
)

func (a periodAction) String() string {
	switch a {
	case actionSkip:
		return "skip"
	case actionFetchDaily:
		return "fetch_daily"
	case actionFetchMonthly:
		return "fetch_monthly"
	case actionDownsample:
		return "downsample"
	case actionUpgrade:
		return "upgrade"
	default:
		return "unknown"
	}
}

// classifyExisting reduces a period's per-metric statuses to one
// granularity. Storage already resolves the both-granularities anomaly to
// monthly; any monthly status wins here for the same reason.
func classifyExisting(statuses []models.ExistingDataStatus) models.GranularityKind {
	existing := models.GranularityNone
	for _, s := range statuses {
		switch s.DataType {
		case models.GranularityMonthly:
			return models.GranularityMonthly
		case models.GranularityDaily:
			existing = models.GranularityDaily
		}
	}
	return existing
}

// decideAction applies the decision table for one period.
func decideAction(target, existing models.GranularityKind, forceRefresh bool) periodAction {
	if forceRefresh {
		if target == models.GranularityDaily {
			return actionFetchDaily
		}
		return actionFetchMonthly
	}

	switch {
	case target == existing:
		return actionSkip
	case target == models.GranularityMonthly && existing == models.GranularityDaily:
		return actionDownsample
	case target == models.GranularityDaily && existing == models.GranularityMonthly:
		return actionUpgrade
	case target == models.GranularityDaily:
		return actionFetchDaily
	default:
		return actionFetchMonthly
	}
}

// SmartFetch runs one adaptive sync over the client's period window.
// periodCount <= 0 uses the configured default. Never returns an error;
// failures are collected in the result.
func (o *Orchestrator) SmartFetch(ctx context.Context, clientID string, periodCount int, forceRefresh bool) *models.RunResult {
	started := o.now()
	result := &models.RunResult{}

	if periodCount <= 0 {
		periodCount = o.cfg.PeriodCount
	}

	cred, err := o.creds.GetCredential(ctx, clientID)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("auth").Inc()
		result.Errors = append(result.Errors, err.Error())
		o.finishRun(ctx, clientID, started, result)
		return result
	}

	periods := PlanPeriods(o.now(), periodCount, o.cfg.DailyPeriodCount)
	existing, err := o.storage.CheckExisting(ctx, clientID, periods)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("storage").Inc()
		result.Errors = append(result.Errors, err.Error())
		o.finishRun(ctx, clientID, started, result)
		return result
	}

	for _, period := range periods {
		key := period.Key()
		action := decideAction(period.Granularity, classifyExisting(existing[key]), forceRefresh)
		metrics.SyncPeriodActions.WithLabelValues(action.String()).Inc()

		if action == actionSkip {
			logging.Debug().
				Str("client_id", clientID).
				Str("period", key).
				Msg("Period already at target granularity, skipping")
			continue
		}

		if err := o.processPeriod(ctx, clientID, cred, period, action); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			logging.Error().
				Err(err).
				Str("client_id", clientID).
				Str("period", key).
				Str("action", action.String()).
				Msg("Period sync failed, continuing run")
			continue
		}

		result.PeriodsProcessed++
		if period.Granularity == models.GranularityDaily {
			result.DailyPeriods = append(result.DailyPeriods, key)
		} else {
			result.MonthlyPeriods = append(result.MonthlyPeriods, key)
		}
	}

	o.finishRun(ctx, clientID, started, result)
	return result
}

// finishRun settles the run result, records metrics and notifies the
// publisher.
func (o *Orchestrator) finishRun(ctx context.Context, clientID string, started time.Time, result *models.RunResult) {
	result.Success = len(result.Errors) == 0
	metrics.RecordSyncRun(o.now().Sub(started), result.Success, result.PeriodsProcessed)

	logging.Info().
		Str("client_id", clientID).
		Bool("success", result.Success).
		Int("periods_processed", result.PeriodsProcessed).
		Int("errors", len(result.Errors)).
		Msg("Sync run finished")

	if o.publisher != nil {
		if err := o.publisher.SyncCompleted(ctx, clientID, result); err != nil {
			logging.Warn().Err(err).Str("client_id", clientID).Msg("Failed to publish sync completion")
		}
	}
}

// processPeriod executes one non-skip action, bracketed by status registry
// updates.
func (o *Orchestrator) processPeriod(ctx context.Context, clientID string, cred *models.PropertyCredential, period models.DataPeriod, action periodAction) (err error) {
	o.registry.StartFetch(clientID, period.Key())
	defer func() {
		o.registry.CompleteFetch(clientID, period.Key(), err == nil, period.Granularity, err)
	}()

	switch action {
	case actionFetchDaily:
		return o.fetchDaily(ctx, clientID, cred, period, true)
	case actionUpgrade:
		return o.fetchDaily(ctx, clientID, cred, period, true)
	case actionFetchMonthly:
		return o.fetchMonthly(ctx, clientID, cred, period, true)
	case actionDownsample:
		return o.downsample(ctx, clientID, cred, period)
	default:
		return fmt.Errorf("unexpected action %s", action)
	}
}

// fetchDaily fetches and stores one period at daily granularity. clearFirst
// removes any prior rows so upgrades and forced refreshes never leave a
// stale mixture.
func (o *Orchestrator) fetchDaily(ctx context.Context, clientID string, cred *models.PropertyCredential, period models.DataPeriod, clearFirst bool) error {
	rows, err := o.client.FetchDailyMetrics(ctx, cred, period.StartDateString(), o.periodEnd(period))
	if err != nil {
		metrics.SyncErrors.WithLabelValues("fetch").Inc()
		return err
	}

	days, err := processor.ProcessDaily(rows)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("process").Inc()
		return err
	}
	if len(days) == 0 {
		logging.Info().
			Str("client_id", clientID).
			Str("period", period.Key()).
			Msg("No daily data for period")
		return nil
	}

	if clearFirst {
		if err := o.storage.ClearPeriod(ctx, clientID, period); err != nil {
			metrics.SyncErrors.WithLabelValues("storage").Inc()
			return err
		}
	}
	if err := o.storage.StoreDaily(ctx, clientID, period, days); err != nil {
		metrics.SyncErrors.WithLabelValues("storage").Inc()
		return err
	}
	return nil
}

// fetchMonthly fetches and stores one period's monthly aggregate.
func (o *Orchestrator) fetchMonthly(ctx context.Context, clientID string, cred *models.PropertyCredential, period models.DataPeriod, clearFirst bool) error {
	bundle, err := o.fetchAggregate(ctx, cred, period)
	if err != nil {
		return err
	}
	if bundle == nil {
		logging.Info().
			Str("client_id", clientID).
			Str("period", period.Key()).
			Msg("No data for period")
		return nil
	}

	if clearFirst {
		if err := o.storage.ClearPeriod(ctx, clientID, period); err != nil {
			metrics.SyncErrors.WithLabelValues("storage").Inc()
			return err
		}
	}
	if err := o.storage.Store(ctx, clientID, period, bundle); err != nil {
		metrics.SyncErrors.WithLabelValues("storage").Inc()
		return err
	}
	return nil
}

// downsample replaces a period's daily rows with a fresh monthly aggregate.
func (o *Orchestrator) downsample(ctx context.Context, clientID string, cred *models.PropertyCredential, period models.DataPeriod) error {
	bundle, err := o.fetchAggregate(ctx, cred, period)
	if err != nil {
		return err
	}
	if bundle == nil {
		// Nothing upstream; clear the stale daily rows so the period is
		// coherently empty rather than mis-grained.
		logging.Warn().
			Str("client_id", clientID).
			Str("period", period.Key()).
			Msg("No data for down-sample target, clearing stale daily rows")
		if err := o.storage.ClearPeriod(ctx, clientID, period); err != nil {
			metrics.SyncErrors.WithLabelValues("storage").Inc()
			return err
		}
		return nil
	}

	if err := o.storage.ReplaceDailyWithMonthly(ctx, clientID, period, bundle); err != nil {
		metrics.SyncErrors.WithLabelValues("storage").Inc()
		return err
	}
	return nil
}

// fetchAggregate runs the three-report batch and processes it into one
// bundle. nil bundle means no data.
func (o *Orchestrator) fetchAggregate(ctx context.Context, cred *models.PropertyCredential, period models.DataPeriod) (*models.MetricBundle, error) {
	batch, err := o.client.FetchBatch(ctx, cred, period.StartDateString(), o.periodEnd(period))
	if err != nil {
		metrics.SyncErrors.WithLabelValues("fetch").Inc()
		return nil, err
	}

	bundle, err := processor.ProcessAggregate(batch.Main, batch.Traffic, batch.Device)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("process").Inc()
		return nil, err
	}
	return bundle, nil
}

// periodEnd caps the request range at today for the current month; the
// reporting API rejects future dates.
func (o *Orchestrator) periodEnd(period models.DataPeriod) string {
	end := period.EndDate()
	if today := o.now().UTC().Truncate(24 * time.Hour); today.Before(end) {
		return today.Format("2006-01-02")
	}
	return period.EndDateString()
}

// ExecuteCompleteResync clears everything stored for the client and refetches
// the default window with forceRefresh. RefreshedCategories is populated
// only when the run succeeds.
func (o *Orchestrator) ExecuteCompleteResync(ctx context.Context, clientID string) *models.ResyncResult {
	logging.Info().Str("client_id", clientID).Msg("Starting complete resync")

	if err := o.storage.ClearAll(ctx, clientID); err != nil {
		metrics.SyncErrors.WithLabelValues("storage").Inc()
		return &models.ResyncResult{Errors: []string{err.Error()}}
	}

	run := o.SmartFetch(ctx, clientID, 0, true)
	result := &models.ResyncResult{
		Success:          run.Success,
		PeriodsProcessed: run.PeriodsProcessed,
		Errors:           run.Errors,
	}
	if run.Success {
		result.RefreshedCategories = append([]string(nil), RefreshedCategories...)
	}
	return result
}

// RefreshCurrentPeriod clears and refetches the present calendar month at
// daily granularity, returning a month-to-date summary averaged over the
// fetched days.
func (o *Orchestrator) RefreshCurrentPeriod(ctx context.Context, clientID string) *models.CurrentPeriodResult {
	now := o.now()
	period := models.DataPeriod{
		Year:        now.UTC().Year(),
		Month:       now.UTC().Month(),
		Granularity: models.GranularityDaily,
	}
	result := &models.CurrentPeriodResult{Period: period.Key()}

	cred, err := o.creds.GetCredential(ctx, clientID)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("auth").Inc()
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	o.registry.StartFetch(clientID, period.Key())

	rows, err := o.client.FetchDailyMetrics(ctx, cred, period.StartDateString(), o.periodEnd(period))
	if err != nil {
		metrics.SyncErrors.WithLabelValues("fetch").Inc()
		result.Errors = append(result.Errors, err.Error())
		o.registry.CompleteFetch(clientID, period.Key(), false, models.GranularityDaily, err)
		return result
	}

	days, err := processor.ProcessDaily(rows)
	if err != nil {
		metrics.SyncErrors.WithLabelValues("process").Inc()
		result.Errors = append(result.Errors, err.Error())
		o.registry.CompleteFetch(clientID, period.Key(), false, models.GranularityDaily, err)
		return result
	}
	if len(days) > 0 {
		if err = o.storage.ClearPeriod(ctx, clientID, period); err == nil {
			err = o.storage.StoreDaily(ctx, clientID, period, days)
		}
		if err != nil {
			metrics.SyncErrors.WithLabelValues("storage").Inc()
			result.Errors = append(result.Errors, err.Error())
			o.registry.CompleteFetch(clientID, period.Key(), false, models.GranularityDaily, err)
			return result
		}
	}

	o.registry.CompleteFetch(clientID, period.Key(), true, models.GranularityDaily, nil)

	result.Success = true
	result.Days = len(days)
	if len(days) > 0 {
		summary := processor.AverageOverDays(days)
		result.Summary = &summary
	}
	return result
}

// ValidateClientAccess checks that the client's credential resolves and the
// property answers a probe report.
func (o *Orchestrator) ValidateClientAccess(ctx context.Context, clientID string) (bool, error) {
	cred, err := o.creds.GetCredential(ctx, clientID)
	if err != nil {
		return false, err
	}
	return o.client.ValidateAccess(ctx, cred), nil
}
