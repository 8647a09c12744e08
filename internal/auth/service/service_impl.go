package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	authdomain "github.com/smallbiznis/meterbill/internal/auth/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Apps  appdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	apps  appdomain.Service
}

func NewService(p Params) authdomain.Verifier {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("auth.service"),
		clock: p.Clock,
		apps:  p.Apps,
	}
}

type tokenClaims struct {
	AppID  string   `json:"appId"`
	Scopes []string `json:"scopes"`
	Kid    string   `json:"kid"`
	jwt.RegisteredClaims
}

// VerifyToken validates an HS256 app token. The signature key is the
// decrypted AppSecret selected by the header kid; the HMAC comparison
// inside the JWT library is constant-time. A valid token burns its
// jti, so a second presentation fails with ErrTokenReplayed.
func (s *Service) VerifyToken(ctx context.Context, token string) (*authdomain.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(authdomain.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.clock.Now),
	)

	var secret *appdomain.AppSecret
	var headerKid string
	parsed, err := parser.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, appdomain.ErrSecretNotFound
		}
		headerKid = kid

		row, key, err := s.apps.GetSecret(ctx, kid)
		if err != nil {
			return nil, err
		}
		if row.Status != appdomain.SecretStatusActive {
			return nil, appdomain.ErrSecretNotActive
		}
		secret = row
		return key, nil
	})
	if err != nil {
		s.log.Debug("token verification failed", zap.Error(err))
		return nil, authdomain.ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok {
		return nil, authdomain.ErrTokenInvalid
	}
	// WithIssuedAt only bounds iat when present; the claim itself is
	// mandatory here.
	if claims.IssuedAt == nil ||
		claims.ID == "" ||
		claims.Subject == "" ||
		claims.Scopes == nil ||
		claims.Kid != headerKid ||
		claims.AppID == "" ||
		claims.AppID != secret.AppID ||
		claims.Issuer != "app:"+claims.AppID {
		return nil, authdomain.ErrTokenInvalid
	}

	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}
	if err := s.burnJti(ctx, claims.ID, expiresAt); err != nil {
		return nil, err
	}

	return &authdomain.Claims{
		AppID:     claims.AppID,
		Subject:   claims.Subject,
		Scopes:    claims.Scopes,
		Jti:       claims.ID,
		Kid:       claims.Kid,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) burnJti(ctx context.Context, jti string, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO jti_usages (jti, expires_at, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt, s.clock.Now().UTC(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return authdomain.ErrTokenReplayed
	}
	return nil
}
