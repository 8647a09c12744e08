package domain

import "time"

// JtiUsage is the replay-protection store. One row per verified token
// ID; a replay hits the primary key and is rejected.
type JtiUsage struct {
	Jti       string    `gorm:"type:text;primaryKey"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (JtiUsage) TableName() string { return "jti_usages" }
