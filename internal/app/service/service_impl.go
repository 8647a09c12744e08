package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/security"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Encryptor security.Encryptor
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	encryptor security.Encryptor
}

func NewService(p Params) appdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("app.service"),
		clock:     p.Clock,
		encryptor: p.Encryptor,
	}
}

func (s *Service) CreateApp(ctx context.Context, name string) (*appdomain.App, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appdomain.ErrInvalidAppName
	}

	app := appdomain.App{
		ID:     uuid.NewString(),
		Name:   name,
		Status: appdomain.AppStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&app).Error; err != nil {
		return nil, err
	}

	s.log.Info("app created", zap.String("app_id", app.ID))
	return &app, nil
}

func (s *Service) GetApp(ctx context.Context, id string) (*appdomain.App, error) {
	var app appdomain.App
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appdomain.ErrAppNotFound
		}
		return nil, err
	}
	return &app, nil
}

// MintSecret generates a fresh HMAC key, stores it encrypted, and
// returns the plaintext exactly once.
func (s *Service) MintSecret(ctx context.Context, appID string) (*appdomain.MintedSecret, error) {
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != appdomain.AppStatusActive {
		return nil, appdomain.ErrAppSuspended
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	plaintext := hex.EncodeToString(raw)

	ciphertext, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	secret := appdomain.AppSecret{
		Kid:              "kid_" + strings.ToLower(ulid.Make().String()),
		AppID:            app.ID,
		SecretCiphertext: ciphertext,
		Status:           appdomain.SecretStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&secret).Error; err != nil {
		return nil, err
	}

	s.log.Info("app secret minted", zap.String("app_id", app.ID), zap.String("kid", secret.Kid))
	return &appdomain.MintedSecret{Kid: secret.Kid, AppID: app.ID, Secret: plaintext}, nil
}

func (s *Service) RevokeSecret(ctx context.Context, appID, kid string) error {
	now := s.clock.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&appdomain.AppSecret{}).
		Where("kid = ? AND app_id = ? AND status = ?", kid, appID, string(appdomain.SecretStatusActive)).
		Updates(map[string]any{
			"status":     string(appdomain.SecretStatusRevoked),
			"revoked_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var existing appdomain.AppSecret
		err := s.db.WithContext(ctx).Where("kid = ? AND app_id = ?", kid, appID).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			return appdomain.ErrSecretNotFound
		}
		if err != nil {
			return err
		}
		// Already revoked, revocation is idempotent.
		return nil
	}

	s.log.Info("app secret revoked", zap.String("app_id", appID), zap.String("kid", kid))
	return nil
}

func (s *Service) GetSecret(ctx context.Context, kid string) (*appdomain.AppSecret, []byte, error) {
	var secret appdomain.AppSecret
	err := s.db.WithContext(ctx).Where("kid = ?", kid).First(&secret).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, appdomain.ErrSecretNotFound
		}
		return nil, nil, err
	}

	plaintext, err := s.encryptor.Decrypt(secret.SecretCiphertext)
	if err != nil {
		return nil, nil, err
	}
	return &secret, []byte(plaintext), nil
}
