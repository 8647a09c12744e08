package domain

import "time"

// WalletConfig holds per-(team, app) auto-topup settings.
type WalletConfig struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	TeamID           string    `gorm:"type:uuid;not null;uniqueIndex:ux_wallet_configs,priority:1" json:"teamId"`
	AppID            string    `gorm:"type:uuid;not null;uniqueIndex:ux_wallet_configs,priority:2" json:"appId"`
	AutoTopUpEnabled bool      `gorm:"not null;default:false" json:"autoTopUpEnabled"`
	ThresholdMinor   int64     `gorm:"not null;default:0" json:"thresholdMinor"`
	TopUpAmountMinor int64     `gorm:"not null;default:0" json:"topUpAmountMinor"`
	Currency         string    `gorm:"type:text;not null;default:USD" json:"currency"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName sets the database table name.
func (WalletConfig) TableName() string { return "wallet_configs" }
