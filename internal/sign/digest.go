package sign

import "crypto/sha256"

// sha256Sum returns the SHA-256 digest of b as a slice, the shape the
// crypto.Signer/ecdsa.Verify family expects rather than a fixed-size
// array.
func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
