package pki

import "math/big"

// BrainpoolP256r1Params are the RFC 5639 §3.4 domain parameters for the
// curve the VAU tunnel's ECIES construction is fixed to. Neither the
// standard library's crypto/ecdh nor crypto/elliptic.CurveParams's generic
// arithmetic can host this curve directly: CurveParams' Add/Double
// shortcuts assume a = -3 (true for the NIST curves, false for Brainpool,
// whose `a` coefficient is an arbitrary field element), so affine
// Weierstrass arithmetic is implemented by hand below against the general
// `a`, `b`, `p` triple instead of reusing that generic path incorrectly.
type brainpoolCurve struct {
	P, A, B, Gx, Gy, N *big.Int
	BitSize            int
}

func hexBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("pki: invalid brainpool constant")
	}
	return n
}

// BrainpoolP256r1 is the singleton curve instance used throughout the VAU
// tunnel and certificate verification.
var BrainpoolP256r1 = &brainpoolCurve{
	P:       hexBig("A9FB57DBA1EEA9BC3E660A909D838D726E3BF623D52620282013481D1F6E5377"),
	A:       hexBig("7D5A0975FC2C3057EEF67530417AFFE7FB8055C126DC5C6CE94A4B44F330B5D9"),
	B:       hexBig("26DC5C6CE94A4B44F330B5D9BBD77CBF958416295CF7E1CE6BCCDC18FF8C07B6"),
	Gx:      hexBig("8BD2AEB9CB7E57CB2C4B482FFC81B7AFB9DE27E1E3BD23C23A4453BD9ACE3262"),
	Gy:      hexBig("547EF835C3DAC4FD97F8461A14611DC9C27745132DED8E545C1D54C72F046997"),
	N:       hexBig("A9FB57DBA1EEA9BC3E660A909D838D718C397AA3B561A6F7901E0E82974856A7"),
	BitSize: 256,
}

// Point is an affine point on BrainpoolP256r1; the identity (point at
// infinity) is represented with both coordinates nil.
type Point struct{ X, Y *big.Int }

func (c *brainpoolCurve) isInfinity(p Point) bool { return p.X == nil || p.Y == nil }

// Add returns p1+p2 in affine coordinates.
func (c *brainpoolCurve) Add(p1, p2 Point) Point {
	if c.isInfinity(p1) {
		return p2
	}
	if c.isInfinity(p2) {
		return p1
	}
	if p1.X.Cmp(p2.X) == 0 {
		if p1.Y.Cmp(p2.Y) != 0 || p1.Y.Sign() == 0 {
			return Point{} // p2 == -p1
		}
		return c.Double(p1)
	}

	// lambda = (y2-y1) / (x2-x1) mod p
	num := new(big.Int).Sub(p2.Y, p1.Y)
	den := new(big.Int).Sub(p2.X, p1.X)
	den.ModInverse(den, c.P)
	lambda := num.Mul(num, den)
	lambda.Mod(lambda, c.P)

	return c.combine(lambda, p1, p2)
}

// Double returns 2*p in affine coordinates.
func (c *brainpoolCurve) Double(p Point) Point {
	if c.isInfinity(p) || p.Y.Sign() == 0 {
		return Point{}
	}

	// lambda = (3x^2 + a) / (2y) mod p
	num := new(big.Int).Mul(p.X, p.X)
	num.Mul(num, big.NewInt(3))
	num.Add(num, c.A)
	num.Mod(num, c.P)

	den := new(big.Int).Lsh(p.Y, 1)
	den.ModInverse(den, c.P)

	lambda := num.Mul(num, den)
	lambda.Mod(lambda, c.P)

	return c.combine(lambda, p, p)
}

// combine finishes the addition/doubling formula given lambda.
func (c *brainpoolCurve) combine(lambda *big.Int, p1, p2 Point) Point {
	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, p1.X)
	x3.Sub(x3, p2.X)
	x3.Mod(x3, c.P)

	y3 := new(big.Int).Sub(p1.X, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, p1.Y)
	y3.Mod(y3, c.P)

	return Point{X: x3, Y: y3}
}

// ScalarMult computes k*p via a left-to-right double-and-add. It is not
// constant-time: its running time depends on the bits of k, and
// vau.Decrypt calls it with the server's static ECIES private key.
func (c *brainpoolCurve) ScalarMult(k []byte, p Point) Point {
	result := Point{}
	scalar := new(big.Int).SetBytes(k)
	for i := scalar.BitLen() - 1; i >= 0; i-- {
		result = c.Double(result)
		if scalar.Bit(i) == 1 {
			result = c.Add(result, p)
		}
	}
	return result
}

// ScalarBaseMult computes k*G.
func (c *brainpoolCurve) ScalarBaseMult(k []byte) Point {
	return c.ScalarMult(k, Point{X: c.Gx, Y: c.Gy})
}

// IsOnCurve reports whether p satisfies y^2 = x^3 + ax + b mod P.
func (c *brainpoolCurve) IsOnCurve(p Point) bool {
	if c.isInfinity(p) {
		return false
	}
	if p.X.Sign() < 0 || p.X.Cmp(c.P) >= 0 || p.Y.Sign() < 0 || p.Y.Cmp(c.P) >= 0 {
		return false
	}

	y2 := new(big.Int).Mul(p.Y, p.Y)
	y2.Mod(y2, c.P)

	x3 := new(big.Int).Mul(p.X, p.X)
	x3.Mul(x3, p.X)
	ax := new(big.Int).Mul(c.A, p.X)
	rhs := x3.Add(x3, ax)
	rhs.Add(rhs, c.B)
	rhs.Mod(rhs, c.P)

	return y2.Cmp(rhs) == 0
}

// VerifyECDSA verifies an ECDSA signature (r, s) over digest against public
// point pub, following the textbook verification equations (FIPS 186-4
// §6.4.2) against this curve's order N.
func (c *brainpoolCurve) VerifyECDSA(pub Point, digest []byte, r, s *big.Int) bool {
	if r.Sign() <= 0 || r.Cmp(c.N) >= 0 || s.Sign() <= 0 || s.Cmp(c.N) >= 0 {
		return false
	}
	if !c.IsOnCurve(pub) {
		return false
	}

	z := hashToInt(digest, c.N)

	sInv := new(big.Int).ModInverse(s, c.N)
	if sInv == nil {
		return false
	}
	u1 := new(big.Int).Mul(z, sInv)
	u1.Mod(u1, c.N)
	u2 := new(big.Int).Mul(r, sInv)
	u2.Mod(u2, c.N)

	p1 := c.ScalarMult(u1.Bytes(), Point{X: c.Gx, Y: c.Gy})
	p2 := c.ScalarMult(u2.Bytes(), pub)
	sum := c.Add(p1, p2)
	if c.isInfinity(sum) {
		return false
	}

	x := new(big.Int).Mod(sum.X, c.N)
	return x.Cmp(r) == 0
}

// hashToInt truncates digest to the bit length of the curve order, as
// required by ECDSA when the hash output is wider than the order.
func hashToInt(digest []byte, n *big.Int) *big.Int {
	orderBits := n.BitLen()
	if len(digest) > (orderBits+7)/8 {
		digest = digest[:(orderBits+7)/8]
	}
	z := new(big.Int).SetBytes(digest)
	excess := len(digest)*8 - orderBits
	if excess > 0 {
		z.Rsh(z, uint(excess))
	}
	return z
}
