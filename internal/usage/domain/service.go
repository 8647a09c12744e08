package domain

import (
	"context"
	"time"
)

// MaxBatchSize caps one ingest request.
const MaxBatchSize = 1000

// EventInput is one event envelope as submitted by a client.
type EventInput struct {
	IdempotencyKey string         `json:"idempotencyKey"`
	EventType      string         `json:"eventType"`
	Timestamp      time.Time      `json:"timestamp"`
	TeamID         string         `json:"teamId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Source         string         `json:"source"`
	Payload        map[string]any `json:"payload"`
}

// IngestResult reports the per-batch outcome.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Pricer projects one persisted event into billable line items.
type Pricer interface {
	PriceEvent(ctx context.Context, event *UsageEvent) error
}

// Service ingests usage events with per-event idempotency.
type Service interface {
	Ingest(ctx context.Context, appID string, events []EventInput) (*IngestResult, error)
	ListEvents(ctx context.Context, appID, teamID string, from, to *time.Time, limit, offset int) ([]UsageEvent, int64, error)
}
