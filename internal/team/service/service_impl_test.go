package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterbill/internal/clock"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.AutoMigrate(
		&teamdomain.User{},
		&teamdomain.Team{},
		&teamdomain.BillingEntity{},
		&teamdomain.TeamMember{},
		&teamdomain.ExternalTeamRef{},
	)
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		db:    conn,
		log:   zap.NewNop(),
		clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func TestCreateUserProvisionsPersonalTeamGraph(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.CreateUser(ctx, teamdomain.CreateUserInput{
		AppID:       "app-1",
		ExternalRef: "user-42",
		Email:       "dev@acme.test",
	})
	assert.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, teamdomain.TeamKindPersonal, result.Team.Kind)
	assert.Equal(t, result.User.ID, *result.Team.OwnerUserID)
	assert.Equal(t, result.Team.ID, result.BillingEntity.TeamID)

	var member teamdomain.TeamMember
	assert.NoError(t, svc.db.Where("team_id = ? AND user_id = ?", result.Team.ID, result.User.ID).First(&member).Error)
	assert.Equal(t, teamdomain.MemberRoleOwner, member.Role)
	assert.Equal(t, teamdomain.MemberStatusActive, member.Status)
}

func TestCreateUserIsIdempotentOnExternalRef(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	input := teamdomain.CreateUserInput{AppID: "app-1", ExternalRef: "user-42"}
	first, err := svc.CreateUser(ctx, input)
	assert.NoError(t, err)
	second, err := svc.CreateUser(ctx, input)
	assert.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, first.Team.ID, second.Team.ID)

	var userCount, teamCount int64
	assert.NoError(t, svc.db.Model(&teamdomain.User{}).Count(&userCount).Error)
	assert.NoError(t, svc.db.Model(&teamdomain.Team{}).Count(&teamCount).Error)
	assert.Equal(t, int64(1), userCount)
	assert.Equal(t, int64(1), teamCount)
}

func TestCreateTeamWithExternalIDIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	input := teamdomain.CreateTeamInput{
		AppID:          "app-1",
		Name:           "data platform",
		ExternalTeamID: "acme-team-7",
		BillingMode:    teamdomain.BillingModeWallet,
	}
	first, err := svc.CreateTeam(ctx, input)
	assert.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, teamdomain.BillingModeWallet, first.Team.BillingMode)

	second, err := svc.CreateTeam(ctx, input)
	assert.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Team.ID, second.Team.ID)
}

func TestAddMemberReactivatesRemovedMember(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	teamResult, err := svc.CreateTeam(ctx, teamdomain.CreateTeamInput{AppID: "app-1", Name: "ops"})
	assert.NoError(t, err)

	member, err := svc.AddMember(ctx, teamdomain.AddMemberInput{
		AppID:       "app-1",
		TeamID:      teamResult.Team.ID,
		ExternalRef: "user-9",
		Role:        teamdomain.MemberRoleAdmin,
	})
	assert.NoError(t, err)
	assert.Equal(t, teamdomain.MemberRoleAdmin, member.Role)

	ended := svc.clock.Now()
	assert.NoError(t, svc.db.Model(&teamdomain.TeamMember{}).
		Where("id = ?", member.ID).
		Updates(map[string]any{
			"status":   string(teamdomain.MemberStatusRemoved),
			"ended_at": ended,
		}).Error)

	again, err := svc.AddMember(ctx, teamdomain.AddMemberInput{
		AppID:       "app-1",
		TeamID:      teamResult.Team.ID,
		ExternalRef: "user-9",
		Role:        teamdomain.MemberRoleMember,
	})
	assert.NoError(t, err)
	assert.Equal(t, member.ID, again.ID)
	assert.Equal(t, teamdomain.MemberStatusActive, again.Status)
	assert.Nil(t, again.EndedAt)

	var count int64
	assert.NoError(t, svc.db.Model(&teamdomain.TeamMember{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolvePersonalTeam(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolvePersonalTeam(ctx, "app-1", "ghost")
	assert.ErrorIs(t, err, teamdomain.ErrUserNotFound)

	created, err := svc.CreateUser(ctx, teamdomain.CreateUserInput{AppID: "app-1", ExternalRef: "user-42"})
	assert.NoError(t, err)

	team, err := svc.ResolvePersonalTeam(ctx, "app-1", "user-42")
	assert.NoError(t, err)
	assert.Equal(t, created.Team.ID, team.ID)

	// Same ref under another app does not leak across tenants.
	_, err = svc.ResolvePersonalTeam(ctx, "app-2", "user-42")
	assert.ErrorIs(t, err, teamdomain.ErrUserNotFound)
}

func TestGetTeamScopedByApp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTeam(ctx, teamdomain.CreateTeamInput{AppID: "app-1", Name: "ops"})
	assert.NoError(t, err)

	_, err = svc.GetTeam(ctx, "app-2", created.Team.ID)
	assert.ErrorIs(t, err, teamdomain.ErrTeamNotFound)
}
