package domain

import "context"

// MintedSecret carries the plaintext secret exactly once, at mint time.
type MintedSecret struct {
	Kid    string
	AppID  string
	Secret string
}

// Service manages tenants and their signing secrets.
type Service interface {
	CreateApp(ctx context.Context, name string) (*App, error)
	GetApp(ctx context.Context, id string) (*App, error)
	MintSecret(ctx context.Context, appID string) (*MintedSecret, error)
	RevokeSecret(ctx context.Context, appID, kid string) error
	// GetSecret returns the stored secret row and its decrypted key
	// material. Callers enforce ACTIVE status where it matters.
	GetSecret(ctx context.Context, kid string) (*AppSecret, []byte, error)
}
