package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/meterbill/internal/schema"
)

var (
	ErrEmptyBatch         = errors.New("empty_batch")
	ErrBatchTooLarge      = errors.New("batch_too_large")
	ErrMissingTeamAndUser = errors.New("missing_team_and_user")
)

// BatchValidationError carries per-event envelope failures for the
// whole batch; the batch is rejected as a unit.
type BatchValidationError struct {
	Issues []ValidationIssue `json:"issues"`
}

// ValidationIssue is one envelope failure addressed by batch index.
type ValidationIssue struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("invalid_event_envelope: %d issue(s)", len(e.Issues))
}

// UnknownEventTypeError rejects an event whose type is not registered.
type UnknownEventTypeError struct {
	EventType string `json:"eventType"`
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown_event_type: %s", e.EventType)
}

func (e *UnknownEventTypeError) Unwrap() error {
	return schema.ErrUnknownEventType
}

// PayloadValidationError rejects an event whose payload fails its
// registered schema.
type PayloadValidationError struct {
	EventType        string              `json:"eventType"`
	ValidationErrors []schema.FieldError `json:"validationErrors"`
}

func (e *PayloadValidationError) Error() string {
	return fmt.Sprintf("invalid_event_payload: %s", e.EventType)
}
