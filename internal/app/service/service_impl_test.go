package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	appdomain "github.com/smallbiznis/meterbill/internal/app/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/security"
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
	if err := conn.AutoMigrate(&appdomain.App{}, &appdomain.AppSecret{}); err != nil {
		t.Fatal(err)
	}
	key, err := security.GenerateRandomKey()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		db:        conn,
		log:       zap.NewNop(),
		clock:     clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		encryptor: enc,
	}
}

func TestCreateAndGetApp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, "  Acme Vector DB  ")
	assert.NoError(t, err)
	assert.Equal(t, "Acme Vector DB", app.Name)
	assert.Equal(t, appdomain.AppStatusActive, app.Status)

	got, err := svc.GetApp(ctx, app.ID)
	assert.NoError(t, err)
	assert.Equal(t, app.ID, got.ID)

	_, err = svc.GetApp(ctx, "missing")
	assert.ErrorIs(t, err, appdomain.ErrAppNotFound)

	_, err = svc.CreateApp(ctx, "   ")
	assert.ErrorIs(t, err, appdomain.ErrInvalidAppName)
}

func TestMintSecretReturnsPlaintextOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, "acme")
	assert.NoError(t, err)

	minted, err := svc.MintSecret(ctx, app.ID)
	assert.NoError(t, err)
	assert.NotEmpty(t, minted.Kid)
	assert.Len(t, minted.Secret, 64)

	stored, material, err := svc.GetSecret(ctx, minted.Kid)
	assert.NoError(t, err)
	assert.Equal(t, app.ID, stored.AppID)
	assert.Equal(t, appdomain.SecretStatusActive, stored.Status)
	// At rest the secret is ciphertext, not the minted value.
	assert.NotEqual(t, minted.Secret, stored.SecretCiphertext)
	assert.Equal(t, minted.Secret, string(material))
}

func TestMintSecretRejectsSuspendedApp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, "acme")
	assert.NoError(t, err)
	assert.NoError(t, svc.db.Model(&appdomain.App{}).
		Where("id = ?", app.ID).
		Update("status", string(appdomain.AppStatusSuspended)).Error)

	_, err = svc.MintSecret(ctx, app.ID)
	assert.ErrorIs(t, err, appdomain.ErrAppSuspended)
}

func TestRevokeSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	app, err := svc.CreateApp(ctx, "acme")
	assert.NoError(t, err)
	minted, err := svc.MintSecret(ctx, app.ID)
	assert.NoError(t, err)

	assert.NoError(t, svc.RevokeSecret(ctx, app.ID, minted.Kid))

	stored, _, err := svc.GetSecret(ctx, minted.Kid)
	assert.NoError(t, err)
	assert.Equal(t, appdomain.SecretStatusRevoked, stored.Status)
	assert.NotNil(t, stored.RevokedAt)

	// Idempotent on repeat; not found for unknown kid.
	assert.NoError(t, svc.RevokeSecret(ctx, app.ID, minted.Kid))
	assert.ErrorIs(t, svc.RevokeSecret(ctx, app.ID, "kid_nope"), appdomain.ErrSecretNotFound)
}
