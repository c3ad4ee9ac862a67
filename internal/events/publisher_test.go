// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

package events

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/config"
	"github.com/tomtom215/metricus/internal/models"
)

// capturePublisher records published messages.
type capturePublisher struct {
	topic    string
	messages []*message.Message
}

func (c *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	c.topic = topic
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestNewPublisherDisabled(t *testing.T) {
	pub, err := NewPublisher(&config.EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("disabled config should not error: %v", err)
	}
	if pub != nil {
		t.Errorf("disabled config should yield nil publisher")
	}

	pub, err = NewPublisher(nil)
	if err != nil || pub != nil {
		t.Errorf("nil config should yield (nil, nil), got %v, %v", pub, err)
	}
}

func TestSyncCompletedPayload(t *testing.T) {
	capture := &capturePublisher{}
	pub := &Publisher{publisher: capture, topic: "metricus.sync.completed"}

	result := &models.RunResult{
		Success:          true,
		PeriodsProcessed: 15,
		DailyPeriods:     []string{"2025-08", "2025-07"},
		MonthlyPeriods:   []string{"2025-06"},
	}
	if err := pub.SyncCompleted(context.Background(), "client-1", result); err != nil {
		t.Fatalf("SyncCompleted failed: %v", err)
	}

	if capture.topic != "metricus.sync.completed" {
		t.Errorf("topic = %q", capture.topic)
	}
	if len(capture.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(capture.messages))
	}

	msg := capture.messages[0]
	if msg.UUID == "" {
		t.Error("message should carry a UUID")
	}

	var event SyncCompletedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		t.Fatalf("payload should decode: %v", err)
	}
	if event.ClientID != "client-1" || !event.Success || event.PeriodsProcessed != 15 {
		t.Errorf("event = %+v", event)
	}
	if len(event.DailyPeriods) != 2 {
		t.Errorf("daily periods = %v", event.DailyPeriods)
	}
	if event.CompletedAt.IsZero() {
		t.Error("event should carry a completion timestamp")
	}
}

func TestCloseNilSafe(t *testing.T) {
	var pub *Publisher
	if err := pub.Close(); err != nil {
		t.Errorf("nil publisher Close should be a no-op: %v", err)
	}
}
