package domain

import "errors"

var (
	ErrAppNotFound      = errors.New("app_not_found")
	ErrAppSuspended     = errors.New("app_suspended")
	ErrInvalidAppName   = errors.New("invalid_app_name")
	ErrSecretNotFound   = errors.New("secret_not_found")
	ErrSecretNotActive  = errors.New("secret_not_active")
	ErrSecretAppMissing = errors.New("secret_app_missing")
)
