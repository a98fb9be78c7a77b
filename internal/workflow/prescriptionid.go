package workflow

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erx-fd/erx-server/internal/model"
)

const defaultMaxIDAttempts = 16

// IDGenerator produces prescription ids of the form
// "FFF.BBBBBBBBB.C" (flow type, a 9-digit per-day counter base, and a
// Luhn check digit), retrying on collision up to a configurable cap
// and surfacing a terminal error once a flow type's daily counter
// space is exhausted.
type IDGenerator struct {
	mu       sync.Mutex
	day      string
	counters map[model.FlowType]uint64
}

// NewIDGenerator returns an empty generator; its daily counters are
// lazily reset the first time Next observes a new calendar day.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{counters: make(map[model.FlowType]uint64)}
}

const maxCounterBase = 999_999_999

// Next allocates a prescription id for flowType. exists reports
// whether a candidate id is already in use (collisions are possible
// since the counter is process-local but several processes may share
// a flow type); Next retries up to maxAttempts times before giving up.
func (g *IDGenerator) Next(flowType model.FlowType, exists func(id string) bool, now time.Time, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxIDAttempts
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	day := now.UTC().Format("20060102")
	if day != g.day {
		g.day = day
		g.counters = make(map[model.FlowType]uint64)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		g.counters[flowType]++
		n := g.counters[flowType]
		if n > maxCounterBase {
			return "", fmt.Errorf("workflow: daily prescription id counter exhausted for flow type %d", flowType)
		}

		id := formatPrescriptionID(flowType, n)
		if exists == nil || !exists(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("workflow: could not allocate a free prescription id after %d attempts", maxAttempts)
}

func formatPrescriptionID(flowType model.FlowType, base uint64) string {
	digits := fmt.Sprintf("%03d%09d", int(flowType), base)
	check := luhnCheckDigit(digits)
	return fmt.Sprintf("%03d.%09d.%d", int(flowType), base, check)
}

// luhnCheckDigit computes the standard Luhn checksum digit for a
// string of decimal digits.
func luhnCheckDigit(digits string) int {
	sum := 0
	alt := true // rightmost existing digit is doubled first
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return (10 - (sum % 10)) % 10
}

// randomHex returns n random bytes hex-encoded, used for access_code
// (32 bytes -> 64 hex digits) and secret (32 bytes) generation.
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("workflow: generate random token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// randomTaskID mints a fresh identifier for any entity the workflow
// engine allocates (Task, KbvBinary, KbvBundle, ErxBundle, AuditEvent).
func randomTaskID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("workflow: generate id: %w", err)
	}
	return id.String(), nil
}
