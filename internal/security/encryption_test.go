package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateRandomKey()
	assert.NoError(t, err)

	enc, err := NewEncryptor(key)
	assert.NoError(t, err)

	sealed, err := enc.Encrypt("whsec_super_secret")
	assert.NoError(t, err)
	assert.Len(t, strings.Split(sealed, ":"), 3)

	plain, err := enc.Decrypt(sealed)
	assert.NoError(t, err)
	assert.Equal(t, "whsec_super_secret", plain)
}

func TestEncryptProducesUniqueIVs(t *testing.T) {
	key, _ := GenerateRandomKey()
	enc, err := NewEncryptor(key)
	assert.NoError(t, err)

	first, err := enc.Encrypt("same input")
	assert.NoError(t, err)
	second, err := enc.Encrypt("same input")
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateRandomKey()
	enc, err := NewEncryptor(key)
	assert.NoError(t, err)

	sealed, err := enc.Encrypt("payload")
	assert.NoError(t, err)

	parts := strings.Split(sealed, ":")
	flipped := []byte(parts[2])
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	parts[2] = string(flipped)

	_, err = enc.Decrypt(strings.Join(parts, ":"))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	key, _ := GenerateRandomKey()
	enc, err := NewEncryptor(key)
	assert.NoError(t, err)

	for _, input := range []string{"", "abc", "a:b", "zz:zz:zz"} {
		_, err := enc.Decrypt(input)
		assert.ErrorIs(t, err, ErrCiphertextMalformed, input)
	}
}

func TestNewEncryptorKeyValidation(t *testing.T) {
	_, err := NewEncryptor("")
	assert.ErrorIs(t, err, ErrEncryptionKeyMissing)

	_, err = NewEncryptor("abcd")
	assert.ErrorIs(t, err, ErrEncryptionKeyInvalid)

	_, err = NewEncryptor(strings.Repeat("zz", 32))
	assert.ErrorIs(t, err, ErrEncryptionKeyInvalid)
}

func TestHashIsStableAndHex(t *testing.T) {
	key, _ := GenerateRandomKey()
	enc, err := NewEncryptor(key)
	assert.NoError(t, err)

	first := enc.Hash("sk_live_abc")
	second := enc.Hash("sk_live_abc")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Empty(t, enc.Hash(""))
}
