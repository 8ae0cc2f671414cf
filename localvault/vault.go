// Package localvault seals an account's share set under its password.
//
// The password is stretched with argon2id under a random salt and the payload
// is encrypted with AES-256-GCM. A sealed blob is laid out as
//
//	version (1) | salt (16) | nonce (12) | ciphertext+tag
//
// Nothing in the blob reveals the password; a wrong password and a modified
// blob are indistinguishable and both fail with ErrAuthenticationFailed.
package localvault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
)

const blobVersion byte = 1

var (
	// ErrAuthenticationFailed is returned for a wrong password or a corrupted blob.
	ErrAuthenticationFailed = cryptoutils.ErrAuthenticationFailed

	// ErrUnsupportedVersion is returned for blobs written by an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported vault blob version")
)

const vaultAAD = "share-set"

// Lock serializes and seals a share set under password.
func Lock(set *interfaces.ShareSet, password string) ([]byte, error) {
	if set == nil {
		return nil, errors.New("nil share set")
	}

	plaintext, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode share set: %w", err)
	}
	defer cryptoutils.WipeBytes(plaintext)

	return Seal(plaintext, password, vaultAAD)
}

// Unlock reverses Lock.
func Unlock(blob []byte, password string) (*interfaces.ShareSet, error) {
	plaintext, err := Open(blob, password, vaultAAD)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.WipeBytes(plaintext)

	var set interfaces.ShareSet
	if err := json.Unmarshal(plaintext, &set); err != nil {
		// The AEAD tag matched, so this is a format problem, not a bad password.
		return nil, fmt.Errorf("failed to decode share set: %w", err)
	}
	return &set, nil
}

// Seal encrypts an arbitrary payload under password. The aad string binds
// the blob to its context; Open must be given the same value.
func Seal(plaintext []byte, password, aad string) ([]byte, error) {
	salt, err := cryptoutils.NewSalt()
	if err != nil {
		return nil, err
	}

	key := cryptoutils.DerivePasswordKey(password, salt)
	defer cryptoutils.WipeBytes(key)

	sealed, err := cryptoutils.SealAESGCM(key, plaintext, additionalData(aad))
	if err != nil {
		return nil, fmt.Errorf("failed to seal payload: %w", err)
	}

	blob := make([]byte, 0, 1+len(salt)+len(sealed))
	blob = append(blob, blobVersion)
	blob = append(blob, salt...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Open decrypts a blob produced by Seal.
func Open(blob []byte, password, aad string) ([]byte, error) {
	if len(blob) < 1+cryptoutils.SaltSize {
		return nil, fmt.Errorf("%w: blob too short", ErrAuthenticationFailed)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, blob[0])
	}

	salt := blob[1 : 1+cryptoutils.SaltSize]
	key := cryptoutils.DerivePasswordKey(password, salt)
	defer cryptoutils.WipeBytes(key)

	return cryptoutils.OpenAESGCM(key, blob[1+cryptoutils.SaltSize:], additionalData(aad))
}

// The version byte is authenticated along with the caller's context.
func additionalData(aad string) []byte {
	return append([]byte{blobVersion}, aad...)
}
