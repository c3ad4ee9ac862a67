// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
publisher.go - Sync Completion Events

Optional NATS publishing of sync.completed notifications so downstream
consumers (dashboards, alerting) learn about fresh data without polling.
Config-gated: when disabled the orchestrator gets a nil publisher and skips
notification entirely. Publish failures are the caller's to log; a broken
event bus must never fail a sync run.
*/
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/models"
)

// SyncCompletedEvent is the published payload.
type SyncCompletedEvent struct {
	ClientID         string    `json:"client_id"`
	Success          bool      `json:"success"`
	PeriodsProcessed int       `json:"periods_processed"`
	DailyPeriods     []string  `json:"daily_periods,omitempty"`
	MonthlyPeriods   []string  `json:"monthly_periods,omitempty"`
	ErrorCount       int       `json:"error_count"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Publisher sends sync completion events over NATS.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// NewPublisher connects to NATS and returns a publisher, or (nil, nil) when
// events are disabled.
func NewPublisher(cfg *config.EventsConfig) (*Publisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	logging.Info().Str("topic", cfg.Topic).Msg("Sync event publishing enabled")
	return &Publisher{publisher: pub, topic: cfg.Topic}, nil
}

// SyncCompleted publishes one completion event for a finished run.
// Satisfies the orchestrator's CompletionPublisher.
func (p *Publisher) SyncCompleted(_ context.Context, clientID string, result *models.RunResult) error {
	event := SyncCompletedEvent{
		ClientID:         clientID,
		Success:          result.Success,
		PeriodsProcessed: result.PeriodsProcessed,
		DailyPeriods:     result.DailyPeriods,
		MonthlyPeriods:   result.MonthlyPeriods,
		ErrorCount:       len(result.Errors),
		CompletedAt:      time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

// Close releases the underlying NATS connection.
func (p *Publisher) Close() error {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Close()
}
