package cryptoutils

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// PaddingQuantum is the block size plaintexts are padded to before encryption.
// Ciphertexts of payloads that pad to the same number of quanta have equal length.
const PaddingQuantum = 64

// lengthPrefixSize is the size of the big-endian payload length header.
const lengthPrefixSize = 4

// ErrDecryptionFailed is returned when a ciphertext does not authenticate
// under the given key and label, or its padding is malformed.
var ErrDecryptionFailed = errors.New("decryption failed")

// EncryptFor encrypts plaintext to the recipient's public key.
//
// The label is bound into both the key derivation and the MAC, so a
// ciphertext produced for one context does not decrypt in another.
//
// Format: ECIES (secp256k1 ECDH, NIST SP 800-56 KDF, AES-128-CTR, HMAC-SHA256)
// over a length-prefixed payload zero-padded to PaddingQuantum.
func EncryptFor(plaintext []byte, recipient Pubkey, label string) ([]byte, error) {
	pub, err := recipient.ECDSA()
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext)
	defer WipeBytes(padded)

	ciphertext, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), padded, []byte(label), []byte(label))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	return ciphertext, nil
}

// DecryptWith decrypts a ciphertext produced by EncryptFor with the holder's
// private key. Any authentication failure (wrong key, wrong label, modified
// bytes) is reported as ErrDecryptionFailed.
func DecryptWith(ciphertext []byte, own Privkey, label string) ([]byte, error) {
	prv, err := own.ECDSA()
	if err != nil {
		return nil, err
	}

	padded, err := ecies.ImportECDSA(prv).Decrypt(ciphertext, []byte(label), []byte(label))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer WipeBytes(padded)

	return unpad(padded)
}

func pad(plaintext []byte) []byte {
	size := lengthPrefixSize + len(plaintext)
	if rem := size % PaddingQuantum; rem != 0 {
		size += PaddingQuantum - rem
	}

	out := make([]byte, size)
	binary.BigEndian.PutUint32(out, uint32(len(plaintext)))
	copy(out[lengthPrefixSize:], plaintext)
	return out
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < lengthPrefixSize || len(padded)%PaddingQuantum != 0 {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryptionFailed)
	}

	size := binary.BigEndian.Uint32(padded)
	if uint64(size) > uint64(len(padded)-lengthPrefixSize) {
		return nil, fmt.Errorf("%w: invalid payload length", ErrDecryptionFailed)
	}

	out := make([]byte, size)
	copy(out, padded[lengthPrefixSize:])
	return out, nil
}
