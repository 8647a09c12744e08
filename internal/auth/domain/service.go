package domain

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
)

// Audience is the fixed aud claim every app token must carry.
const Audience = "billing-service"

var (
	ErrTokenInvalid  = errors.New("invalid_token")
	ErrTokenReplayed = errors.New("token_replayed")
)

// Claims is the verified token payload attached to the request
// context.
type Claims struct {
	AppID     string
	Subject   string
	Scopes    []string
	Jti       string
	Kid       string
	ExpiresAt time.Time
}

// HasScope reports whether the token carries the named scope.
func (c *Claims) HasScope(scope string) bool {
	return lo.Contains(c.Scopes, scope)
}

// Verifier validates app-issued bearer tokens and burns their jti.
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
}
