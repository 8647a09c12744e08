package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/meterbill/internal/clock"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/smallbiznis/meterbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) teamdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("team.service"),
		clock: p.Clock,
	}
}

// CreateUser provisions User + personal Team + BillingEntity + OWNER
// membership in one transaction, idempotently on (appID, externalRef).
func (s *Service) CreateUser(ctx context.Context, input teamdomain.CreateUserInput) (*teamdomain.CreateUserResult, error) {
	externalRef := strings.TrimSpace(input.ExternalRef)
	if externalRef == "" {
		return nil, teamdomain.ErrInvalidExternalRef
	}

	if existing, err := s.findUser(ctx, input.AppID, externalRef); err == nil {
		return s.existingUserResult(ctx, input.AppID, existing)
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	now := s.clock.Now().UTC()
	user := teamdomain.User{
		ID:          uuid.NewString(),
		AppID:       input.AppID,
		ExternalRef: externalRef,
		Email:       strings.TrimSpace(input.Email),
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = externalRef
	}
	team := teamdomain.Team{
		ID:              uuid.NewString(),
		AppID:           input.AppID,
		Name:            name,
		Kind:            teamdomain.TeamKindPersonal,
		OwnerUserID:     &user.ID,
		BillingMode:     normalizeBillingMode(input.BillingMode),
		DefaultCurrency: normalizeCurrency(input.Currency),
	}
	entity := teamdomain.BillingEntity{
		ID:     uuid.NewString(),
		Type:   teamdomain.BillingEntityTypeTeam,
		TeamID: team.ID,
	}
	member := teamdomain.TeamMember{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		UserID:    user.ID,
		Role:      teamdomain.MemberRoleOwner,
		Status:    teamdomain.MemberStatusActive,
		StartedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		// Concurrent provisioning of the same external ref loses the
		// unique race; return the winner's graph.
		if db.IsDuplicateKeyErr(err) {
			existing, ferr := s.findUser(ctx, input.AppID, externalRef)
			if ferr != nil {
				return nil, err
			}
			return s.existingUserResult(ctx, input.AppID, existing)
		}
		return nil, err
	}

	s.log.Info("user provisioned",
		zap.String("app_id", input.AppID),
		zap.String("user_id", user.ID),
		zap.String("team_id", team.ID),
	)
	return &teamdomain.CreateUserResult{User: user, Team: team, BillingEntity: entity, Created: true}, nil
}

// CreateTeam provisions a STANDARD team with its billing entity.
// ExternalTeamID, when present, makes the call idempotent per app.
func (s *Service) CreateTeam(ctx context.Context, input teamdomain.CreateTeamInput) (*teamdomain.CreateTeamResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, teamdomain.ErrInvalidTeamName
	}
	externalTeamID := strings.TrimSpace(input.ExternalTeamID)

	if externalTeamID != "" {
		if result, err := s.findByExternalTeamID(ctx, input.AppID, externalTeamID); err == nil {
			return result, nil
		} else if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	team := teamdomain.Team{
		ID:              uuid.NewString(),
		AppID:           input.AppID,
		Name:            name,
		Kind:            teamdomain.TeamKindStandard,
		BillingMode:     normalizeBillingMode(input.BillingMode),
		DefaultCurrency: normalizeCurrency(input.Currency),
	}
	entity := teamdomain.BillingEntity{
		ID:     uuid.NewString(),
		Type:   teamdomain.BillingEntityTypeTeam,
		TeamID: team.ID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&team).Error; err != nil {
			return err
		}
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		if externalTeamID != "" {
			return tx.Create(&teamdomain.ExternalTeamRef{
				ID:             uuid.NewString(),
				AppID:          input.AppID,
				ExternalTeamID: externalTeamID,
				BillingTeamID:  team.ID,
			}).Error
		}
		return nil
	})
	if err != nil {
		if externalTeamID != "" && db.IsDuplicateKeyErr(err) {
			result, ferr := s.findByExternalTeamID(ctx, input.AppID, externalTeamID)
			if ferr != nil {
				return nil, err
			}
			return result, nil
		}
		return nil, err
	}

	s.log.Info("team created", zap.String("app_id", input.AppID), zap.String("team_id", team.ID))
	return &teamdomain.CreateTeamResult{Team: team, BillingEntity: entity, Created: true}, nil
}

// AddMember adds a user to a team, creating the user on first sight.
// Re-adding a REMOVED member reactivates the existing row.
func (s *Service) AddMember(ctx context.Context, input teamdomain.AddMemberInput) (*teamdomain.TeamMember, error) {
	team, err := s.GetTeam(ctx, input.AppID, input.TeamID)
	if err != nil {
		return nil, err
	}

	externalRef := strings.TrimSpace(input.ExternalRef)
	if externalRef == "" {
		return nil, teamdomain.ErrInvalidExternalRef
	}

	user, err := s.findUser(ctx, input.AppID, externalRef)
	if err == gorm.ErrRecordNotFound {
		user = &teamdomain.User{
			ID:          uuid.NewString(),
			AppID:       input.AppID,
			ExternalRef: externalRef,
			Email:       strings.TrimSpace(input.Email),
		}
		if cerr := s.db.WithContext(ctx).Create(user).Error; cerr != nil {
			if !db.IsDuplicateKeyErr(cerr) {
				return nil, cerr
			}
			user, err = s.findUser(ctx, input.AppID, externalRef)
			if err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = teamdomain.MemberRoleMember
	}
	now := s.clock.Now().UTC()

	var member teamdomain.TeamMember
	err = s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", team.ID, user.ID).
		First(&member).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		member = teamdomain.TeamMember{
			ID:        uuid.NewString(),
			TeamID:    team.ID,
			UserID:    user.ID,
			Role:      role,
			Status:    teamdomain.MemberStatusActive,
			StartedAt: now,
		}
		if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if member.Status == teamdomain.MemberStatusRemoved {
			updates := map[string]any{
				"status":   string(teamdomain.MemberStatusActive),
				"ended_at": nil,
				"role":     string(role),
			}
			if err := s.db.WithContext(ctx).Model(&member).Updates(updates).Error; err != nil {
				return nil, err
			}
			member.Status = teamdomain.MemberStatusActive
			member.EndedAt = nil
			member.Role = role
		}
	}
	return &member, nil
}

func (s *Service) GetTeam(ctx context.Context, appID, teamID string) (*teamdomain.Team, error) {
	var team teamdomain.Team
	err := s.db.WithContext(ctx).Where("id = ? AND app_id = ?", teamID, appID).First(&team).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, teamdomain.ErrTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (s *Service) GetBillingEntity(ctx context.Context, teamID string) (*teamdomain.BillingEntity, error) {
	var entity teamdomain.BillingEntity
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, teamdomain.ErrBillingEntityNotFound
		}
		return nil, err
	}
	return &entity, nil
}

func (s *Service) ResolvePersonalTeam(ctx context.Context, appID, externalRef string) (*teamdomain.Team, error) {
	user, err := s.findUser(ctx, appID, strings.TrimSpace(externalRef))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, teamdomain.ErrUserNotFound
		}
		return nil, err
	}

	var team teamdomain.Team
	err = s.db.WithContext(ctx).
		Where("app_id = ? AND owner_user_id = ? AND kind = ?", appID, user.ID, string(teamdomain.TeamKindPersonal)).
		First(&team).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, teamdomain.ErrPersonalTeamNotFound
		}
		return nil, err
	}
	return &team, nil
}

func (s *Service) findUser(ctx context.Context, appID, externalRef string) (*teamdomain.User, error) {
	var user teamdomain.User
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND external_ref = ?", appID, externalRef).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) existingUserResult(ctx context.Context, appID string, user *teamdomain.User) (*teamdomain.CreateUserResult, error) {
	var team teamdomain.Team
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND owner_user_id = ? AND kind = ?", appID, user.ID, string(teamdomain.TeamKindPersonal)).
		First(&team).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, teamdomain.ErrPersonalTeamNotFound
		}
		return nil, err
	}
	entity, err := s.GetBillingEntity(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	return &teamdomain.CreateUserResult{User: *user, Team: team, BillingEntity: *entity, Created: false}, nil
}

func (s *Service) findByExternalTeamID(ctx context.Context, appID, externalTeamID string) (*teamdomain.CreateTeamResult, error) {
	var ref teamdomain.ExternalTeamRef
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND external_team_id = ?", appID, externalTeamID).
		First(&ref).Error
	if err != nil {
		return nil, err
	}

	var team teamdomain.Team
	if err := s.db.WithContext(ctx).Where("id = ?", ref.BillingTeamID).First(&team).Error; err != nil {
		return nil, err
	}
	entity, err := s.GetBillingEntity(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	return &teamdomain.CreateTeamResult{Team: team, BillingEntity: *entity, Created: false}, nil
}

func normalizeBillingMode(mode teamdomain.BillingMode) teamdomain.BillingMode {
	switch mode {
	case teamdomain.BillingModeWallet, teamdomain.BillingModeHybrid, teamdomain.BillingModeSubscription:
		return mode
	default:
		return teamdomain.BillingModeSubscription
	}
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
