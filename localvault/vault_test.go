package localvault

import (
	"bytes"
	"testing"

	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testShareSet(t *testing.T) *interfaces.ShareSet {
	t.Helper()
	_, priv, err := cryptoutils.RandomKeypair()
	require.NoError(t, err)

	return &interfaces.ShareSet{
		AccountID: "acc-1",
		Threshold: 2,
		Shares: []interfaces.Share{
			{SplitID: "split", Index: 17, Threshold: 2, Value: bytes.Repeat([]byte{0x01}, 32)},
			{SplitID: "split", Index: 201, Threshold: 2, Value: bytes.Repeat([]byte{0x02}, 32)},
		},
		PrivateKey: priv,
	}
}

func TestLockUnlock(t *testing.T) {
	set := testShareSet(t)

	blob, err := Lock(set, "correct horse 1")
	require.NoError(t, err)
	assert.Equal(t, blobVersion, blob[0])
	assert.NotContains(t, string(blob), "split", "Blob must not leak plaintext")

	unlocked, err := Unlock(blob, "correct horse 1")
	require.NoError(t, err)
	assert.Equal(t, set, unlocked)
}

func TestUnlockWrongPassword(t *testing.T) {
	blob, err := Lock(testShareSet(t), "correct horse 1")
	require.NoError(t, err)

	unlocked, err := Unlock(blob, "correct horse 2")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Nil(t, unlocked)
}

func TestUnlockCorruptedBlob(t *testing.T) {
	blob, err := Lock(testShareSet(t), "password1")
	require.NoError(t, err)

	testCases := []struct {
		name   string
		mutate func([]byte) []byte
		err    error
	}{
		{
			name:   "Flipped ciphertext byte",
			mutate: func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b },
			err:    ErrAuthenticationFailed,
		},
		{
			name:   "Flipped salt byte",
			mutate: func(b []byte) []byte { b[3] ^= 0x01; return b },
			err:    ErrAuthenticationFailed,
		},
		{
			name:   "Truncated",
			mutate: func(b []byte) []byte { return b[:10] },
			err:    ErrAuthenticationFailed,
		},
		{
			name:   "Unknown version",
			mutate: func(b []byte) []byte { b[0] = 9; return b },
			err:    ErrUnsupportedVersion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			corrupted := tc.mutate(bytes.Clone(blob))
			_, err := Unlock(corrupted, "password1")
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLockUsesFreshSalt(t *testing.T) {
	set := testShareSet(t)

	first, err := Lock(set, "password1")
	require.NoError(t, err)
	second, err := Lock(set, "password1")
	require.NoError(t, err)

	assert.NotEqual(t, first[1:1+cryptoutils.SaltSize], second[1:1+cryptoutils.SaltSize])
	assert.NotEqual(t, first, second)
}

func TestSealOpenBindsContext(t *testing.T) {
	payload := []byte("session private key")

	blob, err := Seal(payload, "password1", "recovery-session:req-1")
	require.NoError(t, err)

	opened, err := Open(blob, "password1", "recovery-session:req-1")
	require.NoError(t, err)
	assert.Equal(t, payload, opened)

	_, err = Open(blob, "password1", "recovery-session:req-2")
	assert.ErrorIs(t, err, ErrAuthenticationFailed, "A blob must not open in another context")

	_, err = Open(blob, "password1", vaultAAD)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
