package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the size of random salts for password-based derivation.
	SaltSize = 16
	// KeySize is the size of every symmetric key derived in this package.
	KeySize = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// HKDF info labels for keys derived from the account secret.
const (
	secretVerifierInfo = "social-recovery/secret-verifier/v1"
	accountKeyInfo     = "social-recovery/account-key/v1"
)

// ErrAuthenticationFailed is returned when an AEAD ciphertext does not open,
// either because the key is wrong or because the data was modified.
var ErrAuthenticationFailed = errors.New("authentication failed")

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// NewSecret returns KeySize random bytes, used as an account secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, nil
}

// DerivePasswordKey stretches a password into a symmetric key with argon2id.
func DerivePasswordKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// PasswordVerifier returns the value the relay stores to authenticate logins.
// The relay never sees the stretched key itself, only its hash.
func PasswordVerifier(password string, salt []byte) []byte {
	key := DerivePasswordKey(password, salt)
	defer WipeBytes(key)

	hash := sha256.Sum256(key)
	return hash[:]
}

// SecretVerifier derives a public-to-the-relay proof of knowledge of the
// account secret.
func SecretVerifier(secret []byte) ([]byte, error) {
	return deriveFromSecret(secret, secretVerifierInfo)
}

// AccountSealingKey derives the key that seals the account's long-term private key.
func AccountSealingKey(secret []byte) ([]byte, error) {
	return deriveFromSecret(secret, accountKeyInfo)
}

func deriveFromSecret(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// SealAESGCM encrypts plaintext with AES-256-GCM.
// Output format: [nonce (12 bytes)][ciphertext with tag].
func SealAESGCM(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// OpenAESGCM reverses SealAESGCM. Any failure is reported as ErrAuthenticationFailed.
func OpenAESGCM(key, sealed, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrAuthenticationFailed)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
