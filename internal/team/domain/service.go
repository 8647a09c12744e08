package domain

import "context"

// CreateUserInput provisions a user with their personal team.
type CreateUserInput struct {
	AppID       string
	ExternalRef string
	Email       string
	Name        string
	BillingMode BillingMode
	Currency    string
}

// CreateUserResult reports the provisioned graph.
type CreateUserResult struct {
	User          User
	Team          Team
	BillingEntity BillingEntity
	Created       bool
}

// CreateTeamInput provisions a standard team.
type CreateTeamInput struct {
	AppID          string
	Name           string
	BillingMode    BillingMode
	Currency       string
	ExternalTeamID string
}

// CreateTeamResult reports the provisioned team.
type CreateTeamResult struct {
	Team          Team
	BillingEntity BillingEntity
	Created       bool
}

// AddMemberInput adds or reactivates a member.
type AddMemberInput struct {
	AppID       string
	TeamID      string
	ExternalRef string
	Email       string
	Role        MemberRole
}

// Service manages users, teams, and billing entities.
type Service interface {
	CreateUser(ctx context.Context, input CreateUserInput) (*CreateUserResult, error)
	CreateTeam(ctx context.Context, input CreateTeamInput) (*CreateTeamResult, error)
	AddMember(ctx context.Context, input AddMemberInput) (*TeamMember, error)
	GetTeam(ctx context.Context, appID, teamID string) (*Team, error)
	GetBillingEntity(ctx context.Context, teamID string) (*BillingEntity, error)
	// ResolvePersonalTeam finds the unique PERSONAL team owned by the
	// user identified by (appID, externalRef).
	ResolvePersonalTeam(ctx context.Context, appID, externalRef string) (*Team, error)
}
