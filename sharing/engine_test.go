package sharing

import (
	"crypto/rand"
	mathrand "math/rand"
	"testing"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T, size int) []byte {
	t.Helper()
	secret := make([]byte, size)
	_, err := rand.Read(secret)
	require.NoError(t, err, "Failed to generate test secret")
	return secret
}

func randomSubset(rng *mathrand.Rand, shares []interfaces.Share, k int) []interfaces.Share {
	perm := rng.Perm(len(shares))
	subset := make([]interfaces.Share, k)
	for i := 0; i < k; i++ {
		subset[i] = shares[perm[i]]
	}
	return subset
}

func TestSplitReconstruct(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(1))
	params := []struct{ n, t int }{
		{1, 1}, {2, 1}, {5, 1},
		{2, 2}, {3, 2}, {5, 3}, {7, 7},
		{20, 11}, {255, 2}, {255, 255},
	}

	for _, p := range params {
		secret := randomSecret(t, 32)
		shares, err := Split(secret, p.n, p.t)
		require.NoError(t, err, "Split(%d, %d)", p.n, p.t)
		require.Len(t, shares, p.n)

		indexes := map[uint8]bool{}
		for _, s := range shares {
			assert.NotZero(t, s.Index)
			assert.False(t, indexes[s.Index], "Indexes must be distinct")
			indexes[s.Index] = true
			assert.Equal(t, shares[0].SplitID, s.SplitID)
			assert.Equal(t, p.t, s.Threshold)
			assert.Len(t, s.Value, len(secret))
		}

		for trial := 0; trial < 5; trial++ {
			subset := randomSubset(rng, shares, p.t)
			got, err := Reconstruct(subset, p.t)
			require.NoError(t, err, "Reconstruct(%d of %d)", p.t, p.n)
			assert.Equal(t, secret, got)
		}
	}
}

func TestReconstructAnySubsetIsIdentical(t *testing.T) {
	secret := randomSecret(t, 48)
	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)

	var results [][]byte
	for a := 0; a < 5; a++ {
		for b := a + 1; b < 5; b++ {
			for c := b + 1; c < 5; c++ {
				got, err := Reconstruct([]interfaces.Share{shares[a], shares[b], shares[c]}, 3)
				require.NoError(t, err)
				results = append(results, got)
			}
		}
	}

	require.Len(t, results, 10)
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestReconstructUsesOnlyFirstThresholdShares(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 4, 3)
	require.NoError(t, err)

	// A corrupted share beyond the quorum does not influence the result.
	corrupted := shares[3]
	corrupted.Value = randomSecret(t, 32)

	got, err := Reconstruct([]interfaces.Share{shares[0], shares[1], shares[2], corrupted}, 3)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestReconstructInsufficientShares(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)

	got, err := Reconstruct(shares[:2], 3)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Nil(t, got)

	got, err = Reconstruct(nil, 1)
	assert.ErrorIs(t, err, ErrInsufficientShares)
	assert.Nil(t, got)
}

func TestReconstructInconsistentShares(t *testing.T) {
	first, err := Split(randomSecret(t, 32), 3, 2)
	require.NoError(t, err)
	second, err := Split(randomSecret(t, 32), 3, 2)
	require.NoError(t, err)

	_, err = Reconstruct([]interfaces.Share{first[0], second[1]}, 2)
	assert.ErrorIs(t, err, ErrInconsistentShares, "Mixed splits")

	_, err = Reconstruct([]interfaces.Share{first[0], first[0]}, 2)
	assert.ErrorIs(t, err, ErrInconsistentShares, "Duplicate index")

	_, err = Reconstruct(first[:2], 3)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	short := first[1]
	short.Value = short.Value[:16]
	_, err = Reconstruct([]interfaces.Share{first[0], short}, 2)
	assert.ErrorIs(t, err, ErrInconsistentShares, "Length mismatch")

	_, err = Reconstruct(first, 1)
	assert.ErrorIs(t, err, ErrInconsistentShares, "Threshold mismatch")
}

func TestSplitInvalidParameters(t *testing.T) {
	secret := randomSecret(t, 32)

	for _, p := range []struct{ n, t int }{{3, 4}, {3, 0}, {256, 2}, {0, 0}} {
		_, err := Split(secret, p.n, p.t)
		assert.ErrorIs(t, err, ErrInvalidParameters, "Split(%d, %d)", p.n, p.t)
	}

	_, err := Split(nil, 3, 2)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestDeriveAdditionalShare(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(2))

	for _, p := range []struct{ n, t int }{{3, 3}, {5, 3}, {2, 2}, {4, 1}, {10, 6}} {
		secret := randomSecret(t, 32)
		shares, err := Split(secret, p.n, p.t)
		require.NoError(t, err)

		derived, err := DeriveAdditionalShare(randomSubset(rng, shares, p.t), p.t)
		require.NoError(t, err)
		assert.Equal(t, shares[0].SplitID, derived.SplitID)
		assert.Equal(t, p.t, derived.Threshold)
		for _, s := range shares {
			assert.NotEqual(t, s.Index, derived.Index, "Derived index must not collide")
		}

		// The derived share combined with any t-1 existing shares still
		// reconstructs the original secret.
		for trial := 0; trial < 5; trial++ {
			subset := append(randomSubset(rng, shares, p.t-1), derived)
			rng.Shuffle(len(subset), func(i, j int) { subset[i], subset[j] = subset[j], subset[i] })

			got, err := Reconstruct(subset, p.t)
			require.NoError(t, err)
			assert.Equal(t, secret, got)
		}
	}
}

func TestDeriveAdditionalShareChain(t *testing.T) {
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 2, 2)
	require.NoError(t, err)

	// Shares derived from earlier derived shares stay on the same polynomial.
	var reserved []uint8
	derived := make([]interfaces.Share, 0, 4)
	for i := 0; i < 4; i++ {
		d, err := DeriveAdditionalShare(shares, 2, reserved...)
		require.NoError(t, err)
		assert.NotContains(t, reserved, d.Index)
		reserved = append(reserved, d.Index)
		derived = append(derived, d)
	}

	got, err := Reconstruct(derived[2:], 2)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	again, err := DeriveAdditionalShare(derived[:2], 2, append(reserved, shares[0].Index, shares[1].Index)...)
	require.NoError(t, err)
	got, err = Reconstruct([]interfaces.Share{again, shares[1]}, 2)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestDeriveAdditionalShareInsufficientShares(t *testing.T) {
	shares, err := Split(randomSecret(t, 32), 5, 3)
	require.NoError(t, err)

	_, err = DeriveAdditionalShare(shares[:2], 3)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestDeriveAdditionalShareExhaustedIndexes(t *testing.T) {
	shares, err := Split(randomSecret(t, 16), 2, 2)
	require.NoError(t, err)

	reserved := make([]uint8, 0, MaxShares)
	for i := 1; i <= MaxShares; i++ {
		reserved = append(reserved, uint8(i))
	}

	_, err = DeriveAdditionalShare(shares, 2, reserved...)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestFieldArithmetic(t *testing.T) {
	// Known AES field products.
	assert.Equal(t, uint8(0xC1), gfMul(0x57, 0x83))
	assert.Equal(t, uint8(0xFE), gfMul(0x57, 0x13))

	for a := 1; a < 256; a++ {
		assert.Equal(t, uint8(1), gfMul(uint8(a), gfInv(uint8(a))), "Inverse of %#x", a)
	}
	assert.Equal(t, uint8(0), gfMul(0, 0x53))
}
