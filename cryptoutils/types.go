package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidKey is returned when key material cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// Pubkey is an uncompressed secp256k1 public key (65 bytes, 0x04 prefix).
type Pubkey []byte

// NewPubkey validates and wraps raw public key bytes.
func NewPubkey(data []byte) (Pubkey, error) {
	if _, err := Pubkey(data).ECDSA(); err != nil {
		return nil, err
	}
	return Pubkey(data), nil
}

// Validate checks that the key is a point on the curve.
func (k Pubkey) Validate() error {
	_, err := k.ECDSA()
	return err
}

// ECDSA returns the parsed public key.
func (k Pubkey) ECDSA() (*ecdsa.PublicKey, error) {
	pub, err := crypto.UnmarshalPubkey(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// Fingerprint returns a short hex identifier of the key, suitable for logs.
func (k Pubkey) Fingerprint() string {
	hash := sha256.Sum256(k)
	return hex.EncodeToString(hash[:8])
}

// Privkey is a raw 32-byte secp256k1 private scalar.
type Privkey []byte

// ECDSA returns the parsed private key.
func (k Privkey) ECDSA() (*ecdsa.PrivateKey, error) {
	prv, err := crypto.ToECDSA(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return prv, nil
}

// Public derives the public half of the key.
func (k Privkey) Public() (Pubkey, error) {
	prv, err := k.ECDSA()
	if err != nil {
		return nil, err
	}
	return Pubkey(crypto.FromECDSAPub(&prv.PublicKey)), nil
}

// Wipe zeroes the key material in place.
func (k Privkey) Wipe() {
	WipeBytes(k)
}

// RandomKeypair generates a fresh secp256k1 keypair.
func RandomKeypair() (Pubkey, Privkey, error) {
	prv, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	return Pubkey(crypto.FromECDSAPub(&prv.PublicKey)), Privkey(crypto.FromECDSA(prv)), nil
}

// WipeBytes overwrites the slice with zeros.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
