package sharing

// Arithmetic in GF(2^8) with the AES reduction polynomial x^8+x^4+x^3+x+1,
// the field hashicorp/vault/shamir splits over. Shares derived here must
// combine with shares produced by that package.

func gfAdd(a, b uint8) uint8 {
	return a ^ b
}

func gfMul(a, b uint8) uint8 {
	var r uint8
	for i := 0; i < 8; i++ {
		// Branch-free: mask is 0xFF when the low bit of b is set.
		r ^= -(b & 1) & a
		carry := -(a >> 7)
		a = (a << 1) ^ (carry & 0x1B)
		b >>= 1
	}
	return r
}

// gfInv returns a^254, the multiplicative inverse of a non-zero element.
func gfInv(a uint8) uint8 {
	result := uint8(1)
	base := a
	for e := 254; e > 0; e >>= 1 {
		if e&1 == 1 {
			result = gfMul(result, base)
		}
		base = gfMul(base, base)
	}
	return result
}

func gfDiv(a, b uint8) uint8 {
	if b == 0 {
		panic("sharing: division by zero in GF(2^8)")
	}
	return gfMul(a, gfInv(b))
}

// lagrangeCoefficients returns, for each x_i in xs, the Lagrange basis
// polynomial l_i evaluated at x:
//
//	l_i(x) = prod_{j != i} (x - x_j) / (x_i - x_j)
//
// Subtraction is XOR in characteristic 2. xs must be distinct.
func lagrangeCoefficients(xs []uint8, x uint8) []uint8 {
	coeffs := make([]uint8, len(xs))
	for i, xi := range xs {
		num, den := uint8(1), uint8(1)
		for j, xj := range xs {
			if i == j {
				continue
			}
			num = gfMul(num, gfAdd(x, xj))
			den = gfMul(den, gfAdd(xi, xj))
		}
		coeffs[i] = gfDiv(num, den)
	}
	return coeffs
}
