// Package sharing implements threshold secret sharing for account secrets.
//
// Secrets are split with Shamir's scheme over GF(2^8) as implemented by
// hashicorp/vault/shamir: every byte of the secret is the constant term of
// an independent random polynomial of degree threshold-1, and a share is the
// evaluation of all polynomials at one non-zero point. Any threshold shares
// determine the polynomials; fewer reveal nothing about the secret.
//
// DeriveAdditionalShare evaluates the same polynomials at a fresh point by
// Lagrange interpolation from existing shares. It never evaluates at zero,
// so the secret is not materialized.
package sharing

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/social-recovery-backend/cryptoutils"
	"github.com/ruteri/social-recovery-backend/interfaces"
)

// MaxShares is the number of distinct non-zero evaluation points in GF(2^8).
const MaxShares = 255

var (
	// ErrInvalidParameters is returned for impossible split parameters.
	ErrInvalidParameters = errors.New("invalid sharing parameters")

	// ErrInsufficientShares is returned when fewer than threshold shares are supplied.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInconsistentShares is returned when shares do not belong to one split.
	ErrInconsistentShares = errors.New("inconsistent shares")
)

// Split divides secret into n shares, any t of which reconstruct it.
func Split(secret []byte, n, t int) ([]interfaces.Share, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidParameters)
	}
	if t < 1 || t > n || n > MaxShares {
		return nil, fmt.Errorf("%w: cannot split into %d shares with threshold %d", ErrInvalidParameters, n, t)
	}

	var parts [][]byte
	var err error
	if t == 1 {
		parts, err = splitConstant(secret, n)
	} else {
		parts, err = shamir.Split(secret, n, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	splitID := uuid.NewString()
	shares := make([]interfaces.Share, len(parts))
	for i, part := range parts {
		shares[i] = fromPart(splitID, t, part)
		cryptoutils.WipeBytes(part)
	}
	return shares, nil
}

// Reconstruct recovers the secret from at least t shares of one split.
// Only the first t shares are used, so any valid t-subset gives the same result.
func Reconstruct(shares []interfaces.Share, t int) ([]byte, error) {
	if t < 1 {
		return nil, fmt.Errorf("%w: threshold %d", ErrInvalidParameters, t)
	}
	if len(shares) < t {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(shares), t)
	}
	if err := checkConsistent(shares, t); err != nil {
		return nil, err
	}

	quorum := shares[:t]
	if t == 1 {
		secret := make([]byte, len(quorum[0].Value))
		copy(secret, quorum[0].Value)
		return secret, nil
	}

	parts := make([][]byte, len(quorum))
	for i := range quorum {
		parts[i] = toPart(&quorum[i])
	}
	defer func() {
		for _, part := range parts {
			cryptoutils.WipeBytes(part)
		}
	}()

	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentShares, err)
	}
	return secret, nil
}

// DeriveAdditionalShare produces a new share of the same secret at an
// evaluation point that is neither held in existing nor listed in reserved.
// Reserved indexes cover shares already handed out to other parties.
func DeriveAdditionalShare(existing []interfaces.Share, t int, reserved ...uint8) (interfaces.Share, error) {
	if t < 1 {
		return interfaces.Share{}, fmt.Errorf("%w: threshold %d", ErrInvalidParameters, t)
	}
	if len(existing) < t {
		return interfaces.Share{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(existing), t)
	}
	if err := checkConsistent(existing, t); err != nil {
		return interfaces.Share{}, err
	}

	var used [MaxShares + 1]bool
	used[0] = true
	for _, s := range existing {
		used[s.Index] = true
	}
	for _, idx := range reserved {
		used[idx] = true
	}

	x, err := randomFreeIndex(&used)
	if err != nil {
		return interfaces.Share{}, err
	}

	basis := existing[:t]
	xs := make([]uint8, len(basis))
	for i, s := range basis {
		xs[i] = s.Index
	}
	coeffs := lagrangeCoefficients(xs, x)

	value := make([]byte, len(basis[0].Value))
	for b := range value {
		var acc uint8
		for i, s := range basis {
			acc = gfAdd(acc, gfMul(coeffs[i], s.Value[b]))
		}
		value[b] = acc
	}

	return interfaces.Share{
		SplitID:   basis[0].SplitID,
		Index:     x,
		Threshold: t,
		Value:     value,
	}, nil
}

func checkConsistent(shares []interfaces.Share, t int) error {
	first := shares[0]
	if len(first.Value) == 0 {
		return fmt.Errorf("%w: empty share", ErrInconsistentShares)
	}

	var seen [MaxShares + 1]bool
	for _, s := range shares {
		switch {
		case s.SplitID != first.SplitID:
			return fmt.Errorf("%w: shares come from different splits", ErrInconsistentShares)
		case s.Threshold != t:
			return fmt.Errorf("%w: share threshold %d does not match %d", ErrInconsistentShares, s.Threshold, t)
		case len(s.Value) != len(first.Value):
			return fmt.Errorf("%w: share lengths differ", ErrInconsistentShares)
		case s.Index == 0:
			return fmt.Errorf("%w: share index 0 is invalid", ErrInconsistentShares)
		case seen[s.Index]:
			return fmt.Errorf("%w: duplicate share index %d", ErrInconsistentShares, s.Index)
		}
		seen[s.Index] = true
	}
	return nil
}

// splitConstant handles threshold 1, which vault's shamir rejects: the
// polynomial is the constant secret, so every share carries the secret.
func splitConstant(secret []byte, n int) ([][]byte, error) {
	var used [MaxShares + 1]bool
	used[0] = true

	parts := make([][]byte, n)
	for i := range parts {
		x, err := randomFreeIndex(&used)
		if err != nil {
			return nil, err
		}
		used[x] = true

		part := make([]byte, len(secret)+1)
		copy(part, secret)
		part[len(secret)] = x
		parts[i] = part
	}
	return parts, nil
}

func randomFreeIndex(used *[MaxShares + 1]bool) (uint8, error) {
	free := make([]uint8, 0, MaxShares)
	for i := 1; i <= MaxShares; i++ {
		if !used[i] {
			free = append(free, uint8(i))
		}
	}
	if len(free) == 0 {
		return 0, fmt.Errorf("%w: all %d share indexes are taken", ErrInvalidParameters, MaxShares)
	}

	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to read randomness: %w", err)
	}
	pick := (int(buf[0])<<8 | int(buf[1])) % len(free)
	return free[pick], nil
}

// vault's share format is the y values followed by the x coordinate.
func fromPart(splitID string, t int, part []byte) interfaces.Share {
	value := make([]byte, len(part)-1)
	copy(value, part[:len(part)-1])
	return interfaces.Share{
		SplitID:   splitID,
		Index:     part[len(part)-1],
		Threshold: t,
		Value:     value,
	}
}

func toPart(s *interfaces.Share) []byte {
	part := make([]byte, len(s.Value)+1)
	copy(part, s.Value)
	part[len(s.Value)] = s.Index
	return part
}
