// Package schema validates usage-event payloads against versioned,
// tolerant-reader event schemas registered at startup.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownEventType = errors.New("unknown_event_type")

// FieldKind is the expected JSON type of a payload field.
type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindNumber FieldKind = "number"
)

// FieldRule constrains one payload field.
type FieldRule struct {
	Kind     FieldKind
	Required bool
	// Min is the inclusive lower bound for numbers.
	Min *float64
	// Exclusive makes Min an exclusive bound (value > Min).
	Exclusive bool
}

// Entry describes one registered event type.
type Entry struct {
	EventType   string
	Version     int
	Status      string
	Description string
	Shape       map[string]FieldRule
}

// FieldError is one payload validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating one payload.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Registry holds the process-local event-type schemas.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func minBound(v float64) *float64 { return &v }

// NewRegistry seeds the registry with the v1 event schemas.
func NewRegistry() *Registry {
	r := &Registry{entries: map[string]Entry{}}

	r.Register(Entry{
		EventType:   "llm.tokens.v1",
		Version:     1,
		Status:      "active",
		Description: "LLM token consumption sample",
		Shape: map[string]FieldRule{
			"provider":     {Kind: FieldKindString, Required: true},
			"model":        {Kind: FieldKindString, Required: true},
			"inputTokens":  {Kind: FieldKindNumber, Required: true, Min: minBound(0)},
			"outputTokens": {Kind: FieldKindNumber, Required: true, Min: minBound(0)},
			"cachedTokens": {Kind: FieldKindNumber, Min: minBound(0)},
		},
	})
	r.Register(Entry{
		EventType:   "llm.image.v1",
		Version:     1,
		Status:      "active",
		Description: "LLM image generation sample",
		Shape: map[string]FieldRule{
			"provider": {Kind: FieldKindString, Required: true},
			"model":    {Kind: FieldKindString, Required: true},
			"width":    {Kind: FieldKindNumber, Required: true, Min: minBound(0), Exclusive: true},
			"height":   {Kind: FieldKindNumber, Required: true, Min: minBound(0), Exclusive: true},
			"count":    {Kind: FieldKindNumber, Required: true, Min: minBound(0), Exclusive: true},
		},
	})
	r.Register(Entry{
		EventType:   "storage.sample.v1",
		Version:     1,
		Status:      "active",
		Description: "Point-in-time storage usage sample",
		Shape: map[string]FieldRule{
			"bytesUsed": {Kind: FieldKindNumber, Required: true, Min: minBound(0)},
		},
	})
	r.Register(Entry{
		EventType:   "bandwidth.sample.v1",
		Version:     1,
		Status:      "active",
		Description: "Bandwidth transfer sample",
		Shape: map[string]FieldRule{
			"bytesIn":          {Kind: FieldKindNumber, Required: true, Min: minBound(0)},
			"bytesOut":         {Kind: FieldKindNumber, Required: true, Min: minBound(0)},
			"bytesOutInternal": {Kind: FieldKindNumber, Min: minBound(0)},
		},
	})

	return r
}

// Register adds or replaces a schema entry.
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.EventType] = entry
}

// Get returns the entry for an event type.
func (r *Registry) Get(eventType string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[eventType]
	if !ok {
		return Entry{}, ErrUnknownEventType
	}
	return entry, nil
}

// List returns all registered entries sorted by event type.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Validate checks payload against the schema for eventType. Unknown
// payload fields pass; only declared fields are checked.
func (r *Registry) Validate(eventType string, payload map[string]any) (Result, error) {
	entry, err := r.Get(eventType)
	if err != nil {
		return Result{}, err
	}

	var fieldErrors []FieldError
	fields := make([]string, 0, len(entry.Shape))
	for field := range entry.Shape {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := entry.Shape[field]
		value, present := payload[field]
		if !present || value == nil {
			if rule.Required {
				fieldErrors = append(fieldErrors, FieldError{Field: field, Message: "is required"})
			}
			continue
		}
		fieldErrors = append(fieldErrors, checkField(field, rule, value)...)
	}

	return Result{Valid: len(fieldErrors) == 0, Errors: fieldErrors}, nil
}

func checkField(field string, rule FieldRule, value any) []FieldError {
	switch rule.Kind {
	case FieldKindString:
		s, ok := value.(string)
		if !ok {
			return []FieldError{{Field: field, Message: "must be a string"}}
		}
		if s == "" {
			return []FieldError{{Field: field, Message: "must not be empty"}}
		}
	case FieldKindNumber:
		n, ok := asNumber(value)
		if !ok {
			return []FieldError{{Field: field, Message: "must be a number"}}
		}
		if rule.Min != nil {
			if rule.Exclusive && n <= *rule.Min {
				return []FieldError{{Field: field, Message: fmt.Sprintf("must be greater than %v", *rule.Min)}}
			}
			if !rule.Exclusive && n < *rule.Min {
				return []FieldError{{Field: field, Message: fmt.Sprintf("must be at least %v", *rule.Min)}}
			}
		}
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
