package security

import (
	"github.com/smallbiznis/meterbill/internal/config"
	"go.uber.org/fx"
)

// Module provides the secrets encryptor.
var Module = fx.Module("security",
	fx.Provide(func(cfg config.Config) (Encryptor, error) {
		return NewEncryptor(cfg.SecretsEncryptionKey)
	}),
)
