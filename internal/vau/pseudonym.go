package vau

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	pseudonymRandomLen = 16
	defaultKeyTTL      = 10 * 24 * time.Hour
)

// PseudonymGenerator produces and verifies opaque user pseudonyms of the
// form "<16-byte random hex>-<HMAC-SHA-256 hex>". The MAC key is
// process-local and rotated on a timer; only the current key is kept, so
// a pseudonym minted just before rotation becomes unverifiable once its
// key is gone (callers mint a fresh pseudonym per session, not a
// long-lived reference, so this is not observed as a practical problem).
type PseudonymGenerator struct {
	mu   sync.RWMutex
	key  []byte
	ttl  time.Duration
	stop chan struct{}
	done chan struct{}
}

// NewPseudonymGenerator builds a generator with an initial random key and
// starts its rotation loop. ttl of 0 uses the default 10-day rotation.
func NewPseudonymGenerator(ttl time.Duration) (*PseudonymGenerator, error) {
	if ttl == 0 {
		ttl = defaultKeyTTL
	}
	key, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	g := &PseudonymGenerator{
		key:  key,
		ttl:  ttl,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go g.rotateLoop()
	return g, nil
}

// Stop halts the rotation loop.
func (g *PseudonymGenerator) Stop() {
	close(g.stop)
	<-g.done
}

func (g *PseudonymGenerator) rotateLoop() {
	defer close(g.done)
	ticker := time.NewTicker(g.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if key, err := randomBytes(32); err == nil {
				g.mu.Lock()
				g.key = key
				g.mu.Unlock()
			}
		case <-g.stop:
			return
		}
	}
}

// Generate produces a fresh pseudonym under the current key.
func (g *PseudonymGenerator) Generate() (string, error) {
	random, err := randomBytes(pseudonymRandomLen)
	if err != nil {
		return "", err
	}

	g.mu.RLock()
	key := g.key
	g.mu.RUnlock()

	mac := computeMAC(key, random)
	return fmt.Sprintf("%s-%s", hex.EncodeToString(random), hex.EncodeToString(mac)), nil
}

// Verify recomputes the MAC for pseudonym under the current key and
// compares it in constant time.
func (g *PseudonymGenerator) Verify(pseudonym string) bool {
	parts := strings.SplitN(pseudonym, "-", 2)
	if len(parts) != 2 {
		return false
	}
	random, err := hex.DecodeString(parts[0])
	if err != nil || len(random) != pseudonymRandomLen {
		return false
	}
	gotMAC, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}

	g.mu.RLock()
	key := g.key
	g.mu.RUnlock()

	wantMAC := computeMAC(key, random)
	return hmac.Equal(gotMAC, wantMAC)
}

func computeMAC(key, random []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(random)
	return mac.Sum(nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("vau: generate random bytes: %w", err)
	}
	return b, nil
}
