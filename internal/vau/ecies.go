// Package vau implements the confidential tunnel the server's whole
// request surface is wrapped in: ECIES-BrainpoolP256r1 envelope decryption,
// AES-128-GCM response encryption, plaintext record parsing, and the
// rotating user-pseudonym generator.
package vau

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/erx-fd/erx-server/internal/pki"
)

const (
	envelopeVersion   = 0x01
	coordLen          = 32
	ivLen             = 12
	tagLen            = 16
	minEnvelopeLen    = 1 + coordLen + coordLen + ivLen + tagLen
	hkdfInfo          = "ecies-vau-transport"
	derivedKeyLen     = 16
	responseKeyHexLen = 32 // 32 hex digits -> 16 bytes
)

// PrivateKey is the server's static ECIES decryption key: a scalar on
// BrainpoolP256r1.
type PrivateKey struct {
	D *big.Int
}

// ErrMalformedEnvelope is returned for any structural rejection of the
// ECIES wire layout (bad version byte, short body).
var ErrMalformedEnvelope = fmt.Errorf("vau: malformed ECIES envelope")

// Decrypt parses and opens an inbound ECIES envelope, returning the
// recovered plaintext (the space-separated VAU record).
func Decrypt(priv *PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < minEnvelopeLen {
		return nil, ErrMalformedEnvelope
	}
	if envelope[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x", ErrMalformedEnvelope, envelope[0])
	}

	off := 1
	x := new(big.Int).SetBytes(envelope[off : off+coordLen])
	off += coordLen
	y := new(big.Int).SetBytes(envelope[off : off+coordLen])
	off += coordLen
	iv := envelope[off : off+ivLen]
	off += ivLen
	ciphertextAndTag := envelope[off:]
	if len(ciphertextAndTag) < tagLen {
		return nil, ErrMalformedEnvelope
	}

	clientPub := pki.Point{X: x, Y: y}
	if !pki.BrainpoolP256r1.IsOnCurve(clientPub) {
		return nil, fmt.Errorf("vau: client ephemeral public key is not on curve")
	}

	shared := pki.BrainpoolP256r1.ScalarMult(priv.D.Bytes(), clientPub)
	key, err := deriveKey(shared.X)
	if err != nil {
		return nil, err
	}

	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertextAndTag, nil)
	if err != nil {
		return nil, fmt.Errorf("vau: AEAD open failed: %w", err)
	}
	return plaintext, nil
}

// deriveKey runs HKDF-SHA-256 Extract-then-Expand over the ECDH shared
// x-coordinate, no salt, producing a 16-byte AES-128 key.
func deriveKey(sharedX *big.Int) ([]byte, error) {
	ikm := sharedX.FillBytes(make([]byte, coordLen))
	reader := hkdf.New(sha256.New, ikm, nil, []byte(hkdfInfo))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("vau: HKDF expand: %w", err)
	}
	return key, nil
}

// GenerateResponseKey returns 16 fresh random bytes for the per-request
// response-direction AES-128 key.
func GenerateResponseKey() ([]byte, error) {
	key := make([]byte, derivedKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vau: generate response key: %w", err)
	}
	return key, nil
}

// EncryptResponse seals payload under responseKey with a fresh random IV
// and empty AAD, returning IV || Ciphertext || Tag.
func EncryptResponse(responseKey, payload []byte) ([]byte, error) {
	gcm, err := newAESGCM(responseKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("vau: generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, payload, nil)
	out := make([]byte, 0, ivLen+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed...)
	return out, nil
}

// newAESGCM builds an AES-128-GCM AEAD with the tunnel's fixed 12-byte
// nonce size.
func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vau: build AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("vau: build GCM: %w", err)
	}
	return gcm, nil
}
