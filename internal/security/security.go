// Package security provides credential encryption and API key hashing.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"

	apperrors "quantum-trader/internal/errors"
)

const (
	// KeySize is the size of the secretbox key in bytes.
	KeySize = 32
	// NonceSize is the size of the secretbox nonce prefixed to ciphertext.
	NonceSize = 24
	// SaltSize is the size of the salt for API key hashing.
	SaltSize = 16
	// PBKDF2Iterations is the number of iterations for API key hashing.
	PBKDF2Iterations = 100000
	hashSize         = 32
)

// SecretBox encrypts and decrypts short secrets with a symmetric key.
// Ciphertext is base64(nonce || sealed).
type SecretBox struct {
	key [KeySize]byte
}

// NewSecretBox creates a SecretBox from a base64-encoded 32-byte key.
func NewSecretBox(encodedKey string) (*SecretBox, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, apperrors.NewSecurityError("decode_key", "secret key is not valid base64", err)
	}
	if len(raw) != KeySize {
		return nil, apperrors.NewSecurityError("decode_key",
			fmt.Sprintf("secret key must be %d bytes, got %d", KeySize, len(raw)), apperrors.ErrDecryption)
	}
	box := &SecretBox{}
	copy(box.key[:], raw)
	return box, nil
}

// GenerateKey returns a new random base64-encoded key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (b *SecretBox) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", apperrors.NewSecurityError("decrypt", "ciphertext is not valid base64", apperrors.ErrDecryption)
	}
	if len(raw) < NonceSize+secretbox.Overhead {
		return "", apperrors.NewSecurityError("decrypt", "ciphertext too short", apperrors.ErrDecryption)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	plain, ok := secretbox.Open(nil, raw[NonceSize:], &nonce, &b.key)
	if !ok {
		return "", apperrors.NewSecurityError("decrypt", "authentication failed", apperrors.ErrDecryption)
	}
	return string(plain), nil
}

// HashAPIKey hashes an API key with PBKDF2-SHA256 and a random salt.
// The result is base64(salt || hash).
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return encodeHash(salt, apiKey), nil
}

func encodeHash(salt []byte, apiKey string) string {
	hash := pbkdf2.Key([]byte(apiKey), salt, PBKDF2Iterations, hashSize, sha256.New)
	return base64.StdEncoding.EncodeToString(append(append([]byte{}, salt...), hash...))
}

// VerifyAPIKey reports whether apiKey matches a HashAPIKey result.
func VerifyAPIKey(apiKey, encoded string) bool {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != SaltSize+hashSize {
		return false
	}
	hash := pbkdf2.Key([]byte(apiKey), raw[:SaltSize], PBKDF2Iterations, hashSize, sha256.New)
	return subtle.ConstantTimeCompare(hash, raw[SaltSize:]) == 1
}

// MaskCredential masks a credential value for logging.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
