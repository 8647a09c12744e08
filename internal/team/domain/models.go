package domain

import "time"

// TeamKind distinguishes auto-created single-owner teams from regular ones.
type TeamKind string

const (
	TeamKindPersonal TeamKind = "PERSONAL"
	TeamKindStandard TeamKind = "STANDARD"
)

// BillingMode selects how a team pays for usage.
type BillingMode string

const (
	BillingModeSubscription BillingMode = "SUBSCRIPTION"
	BillingModeWallet       BillingMode = "WALLET"
	BillingModeHybrid       BillingMode = "HYBRID"
)

// MemberRole is a team membership role.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleAdmin  MemberRole = "ADMIN"
	MemberRoleMember MemberRole = "MEMBER"
)

// MemberStatus is a team membership state.
type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "ACTIVE"
	MemberStatusRemoved MemberStatus = "REMOVED"
)

// User is identified by (app, external ref) within a tenant.
type User struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	AppID       string `gorm:"type:uuid;not null;uniqueIndex:ux_users_app_ref,priority:1"`
	ExternalRef string `gorm:"type:text;not null;uniqueIndex:ux_users_app_ref,priority:2"`
	Email       string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Team is the billing subject within an app.
type Team struct {
	ID                 string      `gorm:"type:uuid;primaryKey"`
	AppID              string      `gorm:"type:uuid;not null;index"`
	Name               string      `gorm:"type:text;not null"`
	Kind               TeamKind    `gorm:"type:text;not null"`
	OwnerUserID        *string     `gorm:"type:uuid"`
	BillingMode        BillingMode `gorm:"type:text;not null;default:SUBSCRIPTION"`
	DefaultCurrency    string      `gorm:"type:text;not null;default:USD"`
	ExternalCustomerID *string     `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName sets the database table name.
func (Team) TableName() string { return "teams" }

// BillingEntityType discriminates billing recipients. Only TEAM exists
// today; the indirection keeps room for non-team recipients.
type BillingEntityType string

const BillingEntityTypeTeam BillingEntityType = "TEAM"

// BillingEntity is the recipient of invoices and ledger entries.
type BillingEntity struct {
	ID        string            `gorm:"type:uuid;primaryKey"`
	Type      BillingEntityType `gorm:"type:text;not null;default:TEAM"`
	TeamID    string            `gorm:"type:uuid;not null;uniqueIndex:ux_billing_entities_team"`
	CreatedAt time.Time
}

// TableName sets the database table name.
func (BillingEntity) TableName() string { return "billing_entities" }

// TeamMember links users to teams with a role.
type TeamMember struct {
	ID        string       `gorm:"type:uuid;primaryKey"`
	TeamID    string       `gorm:"type:uuid;not null;uniqueIndex:ux_team_members_pair,priority:1"`
	UserID    string       `gorm:"type:uuid;not null;uniqueIndex:ux_team_members_pair,priority:2"`
	Role      MemberRole   `gorm:"type:text;not null"`
	Status    MemberStatus `gorm:"type:text;not null;default:ACTIVE"`
	StartedAt time.Time    `gorm:"not null"`
	EndedAt   *time.Time
}

// TableName sets the database table name.
func (TeamMember) TableName() string { return "team_members" }

// ExternalTeamRef maps a tenant's own team identifier to a billing team.
type ExternalTeamRef struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	AppID          string    `gorm:"type:uuid;not null;uniqueIndex:ux_external_team_refs,priority:1"`
	ExternalTeamID string    `gorm:"type:text;not null;uniqueIndex:ux_external_team_refs,priority:2"`
	BillingTeamID  string    `gorm:"type:uuid;not null"`
	CreatedAt      time.Time
}

// TableName sets the database table name.
func (ExternalTeamRef) TableName() string { return "external_team_refs" }
