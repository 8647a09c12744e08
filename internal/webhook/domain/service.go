package domain

import "context"

// Result reports one webhook delivery. Duplicate deliveries are
// acknowledged so the processor stops retrying.
type Result struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"-"`
	EventType string `json:"-"`
}

// Service verifies, dedups, and routes payment-processor events.
type Service interface {
	ProcessEvent(ctx context.Context, payload []byte, sigHeader string) (*Result, error)
}
