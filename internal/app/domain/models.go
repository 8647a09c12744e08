package domain

import "time"

// AppStatus is the lifecycle state of a tenant.
type AppStatus string

const (
	AppStatusActive    AppStatus = "ACTIVE"
	AppStatusSuspended AppStatus = "SUSPENDED"
)

// SecretStatus is the lifecycle state of a signing secret.
type SecretStatus string

const (
	SecretStatusActive  SecretStatus = "ACTIVE"
	SecretStatusRevoked SecretStatus = "REVOKED"
)

// App is a tenant of the billing service.
type App struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	Status    AppStatus `gorm:"type:text;not null;default:ACTIVE"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (App) TableName() string { return "apps" }

// AppSecret is a shared HMAC key for signing client JWTs. The secret is
// stored encrypted at rest; only ACTIVE secrets may verify tokens.
type AppSecret struct {
	Kid              string       `gorm:"type:text;primaryKey"`
	AppID            string       `gorm:"type:uuid;not null;index"`
	SecretCiphertext string       `gorm:"type:text;not null"`
	Status           SecretStatus `gorm:"type:text;not null;default:ACTIVE"`
	RevokedAt        *time.Time
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AppSecret) TableName() string { return "app_secrets" }
