package db

import (
	"fmt"

	"github.com/smallbiznis/meterbill/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect builds the gorm dialector from configuration. DATABASE_URL takes
// precedence over the discrete connection variables.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	if cfg.DatabaseURL != "" {
		return postgres.Open(cfg.DatabaseURL), nil
	}
	if cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("database configuration incomplete")
	}
	return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)), nil
}
