package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrEncryptionKeyInvalid = errors.New("encryption_key_invalid")
	ErrCiphertextMalformed  = errors.New("ciphertext_malformed")
	ErrDecryptFailed        = errors.New("decrypt_failed")
)

// Encryptor encrypts and decrypts small secrets at rest.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Hash(value string) string
}

type aesGCMEncryptor struct {
	key []byte
}

// NewEncryptor builds an AES-256-GCM encryptor. The key must be the
// hex encoding of exactly 32 bytes.
func NewEncryptor(hexKey string) (Encryptor, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrEncryptionKeyMissing
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionKeyInvalid, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrEncryptionKeyInvalid, len(key))
	}
	return &aesGCMEncryptor{key: key}, nil
}

// Encrypt seals plaintext and returns "hex(iv):hex(tag):hex(ciphertext)".
func (e *aesGCMEncryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagSize := gcm.Overhead()
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *aesGCMEncryptor) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return "", ErrCiphertextMalformed
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", ErrCiphertextMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrCiphertextMalformed
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrCiphertextMalformed
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", ErrCiphertextMalformed
	}

	plaintext, err := gcm.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// Hash returns the hex SHA-256 of value, for lookup columns that must
// never store the raw secret.
func (e *aesGCMEncryptor) Hash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func (e *aesGCMEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateRandomKey returns a fresh hex-encoded 32-byte key.
func GenerateRandomKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
