package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	appservice "github.com/smallbiznis/meterbill/internal/app/service"
	authdomain "github.com/smallbiznis/meterbill/internal/auth/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/security"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc    authdomain.Verifier
	apps   appdomain.Service
	appID  string
	kid    string
	secret string
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.AutoMigrate(
		&appdomain.App{},
		&appdomain.AppSecret{},
		&authdomain.JtiUsage{},
	)
	if err != nil {
		t.Fatal(err)
	}

	encryptor, err := security.NewEncryptor(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(now)

	apps := appservice.NewService(appservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		Encryptor: encryptor,
	})

	ctx := context.Background()
	app, err := apps.CreateApp(ctx, "acme")
	assert.NoError(t, err)
	minted, err := apps.MintSecret(ctx, app.ID)
	assert.NoError(t, err)

	svc := NewService(Params{DB: conn, Log: zap.NewNop(), Clock: fake, Apps: apps})
	return &fixture{
		svc:    svc,
		apps:   apps,
		appID:  app.ID,
		kid:    minted.Kid,
		secret: minted.Secret,
		now:    now,
	}
}

type signOption func(header map[string]any, claims jwt.MapClaims)

func (f *fixture) signToken(t *testing.T, opts ...signOption) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":    "app:" + f.appID,
		"aud":    authdomain.Audience,
		"sub":    "user-1",
		"exp":    f.now.Add(time.Hour).Unix(),
		"iat":    f.now.Add(-time.Minute).Unix(),
		"jti":    uuid.NewString(),
		"kid":    f.kid,
		"appId":  f.appID,
		"scopes": []string{"usage:write", "billing:read", "entitlements:read"},
	}
	header := map[string]any{"kid": f.kid}
	for _, opt := range opts {
		opt(header, claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	for key, value := range header {
		token.Header[key] = value
	}
	signed, err := token.SignedString([]byte(f.secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestVerifyTokenHappyPath(t *testing.T) {
	f := newFixture(t)
	claims, err := f.svc.VerifyToken(context.Background(), f.signToken(t))
	assert.NoError(t, err)
	assert.Equal(t, f.appID, claims.AppID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.HasScope("usage:write"))
	assert.False(t, claims.HasScope("admin:write"))
}

func TestVerifyTokenReplayRejected(t *testing.T) {
	f := newFixture(t)
	token := f.signToken(t)

	_, err := f.svc.VerifyToken(context.Background(), token)
	assert.NoError(t, err)

	_, err = f.svc.VerifyToken(context.Background(), token)
	assert.ErrorIs(t, err, authdomain.ErrTokenReplayed)
}

func TestVerifyTokenRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	token := f.signToken(t)
	tampered := token[:len(token)-4] + "AAAA"

	_, err := f.svc.VerifyToken(context.Background(), tampered)
	assert.ErrorIs(t, err, authdomain.ErrTokenInvalid)
}

func TestVerifyTokenClaimChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		opt  signOption
	}{
		{"expired", func(_ map[string]any, c jwt.MapClaims) { c["exp"] = f.now.Add(-time.Minute).Unix() }},
		{"issued in the future", func(_ map[string]any, c jwt.MapClaims) { c["iat"] = f.now.Add(time.Hour).Unix() }},
		{"missing iat", func(_ map[string]any, c jwt.MapClaims) { delete(c, "iat") }},
		{"wrong audience", func(_ map[string]any, c jwt.MapClaims) { c["aud"] = "other-service" }},
		{"wrong issuer", func(_ map[string]any, c jwt.MapClaims) { c["iss"] = "app:someone-else" }},
		{"missing jti", func(_ map[string]any, c jwt.MapClaims) { c["jti"] = "" }},
		{"missing scopes", func(_ map[string]any, c jwt.MapClaims) { delete(c, "scopes") }},
		{"missing sub", func(_ map[string]any, c jwt.MapClaims) { c["sub"] = "" }},
		{"kid mismatch", func(_ map[string]any, c jwt.MapClaims) { c["kid"] = "kid_other" }},
		{"unknown header kid", func(h map[string]any, _ jwt.MapClaims) { h["kid"] = "kid_ghost" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.VerifyToken(ctx, f.signToken(t, tc.opt))
			assert.ErrorIs(t, err, authdomain.ErrTokenInvalid)
		})
	}
}

func TestVerifyTokenRejectsRevokedSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.signToken(t)

	assert.NoError(t, f.apps.RevokeSecret(ctx, f.appID, f.kid))

	_, err := f.svc.VerifyToken(ctx, token)
	assert.ErrorIs(t, err, authdomain.ErrTokenInvalid)
}
