package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptForDecryptWith(t *testing.T) {
	pub, priv, err := RandomKeypair()
	require.NoError(t, err)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Empty data", data: []byte{}},
		{name: "Share payload", data: []byte(`{"split_id":"x","index":7,"threshold":3,"value":"AAEC"}`)},
		{name: "Binary data", data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD}},
		{name: "Exactly one quantum after prefix", data: bytes.Repeat([]byte{0xAB}, PaddingQuantum-lengthPrefixSize)},
		{name: "Long data", data: make([]byte, 1024)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := EncryptFor(tc.data, pub, "trust-share:alice")
			require.NoError(t, err)

			plaintext, err := DecryptWith(ciphertext, priv, "trust-share:alice")
			require.NoError(t, err)
			assert.Equal(t, tc.data, plaintext)
		})
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	pub, _, err := RandomKeypair()
	require.NoError(t, err)
	_, otherPriv, err := RandomKeypair()
	require.NoError(t, err)

	ciphertext, err := EncryptFor([]byte("share bytes"), pub, "label")
	require.NoError(t, err)

	plaintext, err := DecryptWith(ciphertext, otherPriv, "label")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, plaintext)
}

func TestDecryptWithWrongLabel(t *testing.T) {
	pub, priv, err := RandomKeypair()
	require.NoError(t, err)

	ciphertext, err := EncryptFor([]byte("share bytes"), pub, "recovery-share:one")
	require.NoError(t, err)

	_, err = DecryptWith(ciphertext, priv, "recovery-share:two")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptWithTamperedCiphertext(t *testing.T) {
	pub, priv, err := RandomKeypair()
	require.NoError(t, err)

	ciphertext, err := EncryptFor([]byte("share bytes"), pub, "label")
	require.NoError(t, err)

	for _, pos := range []int{0, 70, len(ciphertext) / 2, len(ciphertext) - 1} {
		tampered := bytes.Clone(ciphertext)
		tampered[pos] ^= 0x01

		_, err := DecryptWith(tampered, priv, "label")
		assert.Error(t, err, "Flipping byte %d should be detected", pos)
	}
}

func TestCiphertextLengthHidesPayloadLength(t *testing.T) {
	pub, _, err := RandomKeypair()
	require.NoError(t, err)

	short, err := EncryptFor([]byte("a"), pub, "label")
	require.NoError(t, err)
	long, err := EncryptFor(bytes.Repeat([]byte("a"), PaddingQuantum-lengthPrefixSize), pub, "label")
	require.NoError(t, err)
	longer, err := EncryptFor(bytes.Repeat([]byte("a"), PaddingQuantum), pub, "label")
	require.NoError(t, err)

	assert.Equal(t, len(short), len(long))
	assert.Equal(t, len(short)+PaddingQuantum, len(longer))
}

func TestEncryptForInvalidKey(t *testing.T) {
	_, err := EncryptFor([]byte("data"), Pubkey("not a key"), "label")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestUnpadRejectsMalformedInput(t *testing.T) {
	_, err := unpad([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	bad := make([]byte, PaddingQuantum)
	bad[0] = 0xFF
	_, err = unpad(bad)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
