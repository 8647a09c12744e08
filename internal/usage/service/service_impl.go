package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	"github.com/smallbiznis/meterbill/internal/schema"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)*\.v\d+$`)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Registry   *schema.Registry
	Teams      teamdomain.Service
	Pricer     usagedomain.Pricer  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	registry   *schema.Registry
	teams      teamdomain.Service
	pricer     usagedomain.Pricer
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		registry:   p.Registry,
		teams:      p.Teams,
		pricer:     p.Pricer,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest persists a batch of 1..1000 events sequentially. A replayed
// idempotency key counts as a duplicate, not an error.
func (s *Service) Ingest(ctx context.Context, appID string, events []usagedomain.EventInput) (*usagedomain.IngestResult, error) {
	if len(events) == 0 {
		return nil, usagedomain.ErrEmptyBatch
	}
	if len(events) > usagedomain.MaxBatchSize {
		return nil, usagedomain.ErrBatchTooLarge
	}

	if err := validateEnvelopes(events); err != nil {
		return nil, err
	}

	result := &usagedomain.IngestResult{}
	acceptedByType := map[string]int{}
	duplicatesByType := map[string]int{}

	for i := range events {
		input := events[i]

		validation, err := s.registry.Validate(input.EventType, input.Payload)
		if err != nil {
			return nil, &usagedomain.UnknownEventTypeError{EventType: input.EventType}
		}
		if !validation.Valid {
			return nil, &usagedomain.PayloadValidationError{
				EventType:        input.EventType,
				ValidationErrors: validation.Errors,
			}
		}

		teamID := input.TeamID
		if teamID == "" {
			team, err := s.teams.ResolvePersonalTeam(ctx, appID, input.UserID)
			if err != nil {
				return nil, err
			}
			teamID = team.ID
		}

		billTo, err := s.teams.GetBillingEntity(ctx, teamID)
		if err != nil {
			return nil, err
		}

		event := usagedomain.UsageEvent{
			ID:             uuid.NewString(),
			AppID:          appID,
			TeamID:         teamID,
			BillToID:       billTo.ID,
			EventType:      input.EventType,
			Timestamp:      input.Timestamp.UTC(),
			IdempotencyKey: input.IdempotencyKey,
			Payload:        datatypes.JSONMap(input.Payload),
			Source:         input.Source,
		}
		if input.UserID != "" {
			userID := input.UserID
			event.UserID = &userID
		}

		inserted := s.db.WithContext(ctx).Exec(
			`INSERT INTO usage_events (
				id, app_id, team_id, bill_to_id, user_id, event_type,
				timestamp, idempotency_key, payload, source, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (app_id, idempotency_key) DO NOTHING`,
			event.ID,
			event.AppID,
			event.TeamID,
			event.BillToID,
			event.UserID,
			event.EventType,
			event.Timestamp,
			event.IdempotencyKey,
			event.Payload,
			event.Source,
			time.Now().UTC(),
		)
		if inserted.Error != nil {
			return nil, inserted.Error
		}
		if inserted.RowsAffected == 0 {
			result.Duplicates++
			duplicatesByType[event.EventType]++
			continue
		}

		result.Accepted++
		acceptedByType[event.EventType]++

		if s.pricer != nil {
			// Pricing failure does not reject the persisted event; the
			// stored payload allows a later reprice.
			if err := s.pricer.PriceEvent(ctx, &event); err != nil {
				s.log.Error("failed to price usage event",
					zap.String("event_id", event.ID),
					zap.String("event_type", event.EventType),
					zap.Error(err),
				)
			}
		}
	}

	for eventType, count := range acceptedByType {
		s.obsMetrics.RecordUsageIngest(ctx, eventType, count)
	}
	for eventType, count := range duplicatesByType {
		s.obsMetrics.RecordUsageDuplicates(ctx, eventType, count)
	}

	return result, nil
}

// ListEvents returns events newest-first for one team.
func (s *Service) ListEvents(ctx context.Context, appID, teamID string, from, to *time.Time, limit, offset int) ([]usagedomain.UsageEvent, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("app_id = ? AND team_id = ?", appID, teamID)
	if from != nil {
		query = query.Where("timestamp >= ?", from.UTC())
	}
	if to != nil {
		query = query.Where("timestamp < ?", to.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []usagedomain.UsageEvent
	err := query.
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func validateEnvelopes(events []usagedomain.EventInput) error {
	var issues []usagedomain.ValidationIssue
	for i, input := range events {
		if strings.TrimSpace(input.IdempotencyKey) == "" {
			issues = append(issues, usagedomain.ValidationIssue{Index: i, Field: "idempotencyKey", Message: "is required"})
		}
		if !eventTypePattern.MatchString(input.EventType) {
			issues = append(issues, usagedomain.ValidationIssue{Index: i, Field: "eventType", Message: "must match the versioned event-type pattern"})
		}
		if input.Timestamp.IsZero() {
			issues = append(issues, usagedomain.ValidationIssue{Index: i, Field: "timestamp", Message: "must be a valid ISO-8601 instant"})
		}
		if strings.TrimSpace(input.Source) == "" {
			issues = append(issues, usagedomain.ValidationIssue{Index: i, Field: "source", Message: "is required"})
		}
		if input.TeamID == "" && input.UserID == "" {
			issues = append(issues, usagedomain.ValidationIssue{Index: i, Field: "teamId", Message: "either teamId or userId is required"})
		}
	}
	if len(issues) > 0 {
		return &usagedomain.BatchValidationError{Issues: issues}
	}
	return nil
}
