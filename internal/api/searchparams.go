package api

import (
	"strings"
	"time"
)

// comparator is a FHIR search-parameter prefix applied to a date or
// quantity value.
type comparator string

const (
	cmpEQ comparator = "eq"
	cmpNE comparator = "ne"
	cmpGT comparator = "gt"
	cmpLT comparator = "lt"
	cmpGE comparator = "ge"
	cmpLE comparator = "le"
	cmpSA comparator = "sa" // starts after
	cmpEB comparator = "eb" // ends before
	cmpAP comparator = "ap" // approximately
)

var knownComparators = map[string]comparator{
	"eq": cmpEQ, "ne": cmpNE, "gt": cmpGT, "lt": cmpLT,
	"ge": cmpGE, "le": cmpLE, "sa": cmpSA, "eb": cmpEB, "ap": cmpAP,
}

// dateFilter is a parsed "date" search parameter: a comparator plus the
// instant it compares against.
type dateFilter struct {
	cmp comparator
	at  time.Time
}

// parseDateParam splits a raw search value such as "ge2026-01-01" into
// its comparator and parsed instant. A value with no recognised
// two-letter prefix defaults to eq.
func parseDateParam(raw string) (dateFilter, bool) {
	cmp := cmpEQ
	value := raw
	if len(raw) >= 2 {
		if c, ok := knownComparators[raw[:2]]; ok {
			cmp = c
			value = raw[2:]
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return dateFilter{cmp: cmp, at: t}, true
		}
	}
	return dateFilter{}, false
}

// Matches reports whether candidate satisfies the filter's comparator.
func (f dateFilter) Matches(candidate time.Time) bool {
	switch f.cmp {
	case cmpEQ:
		return candidate.Equal(f.at)
	case cmpNE:
		return !candidate.Equal(f.at)
	case cmpGT, cmpSA:
		return candidate.After(f.at)
	case cmpLT, cmpEB:
		return candidate.Before(f.at)
	case cmpGE:
		return !candidate.Before(f.at)
	case cmpLE:
		return !candidate.After(f.at)
	case cmpAP:
		delta := candidate.Sub(f.at)
		if delta < 0 {
			delta = -delta
		}
		return delta <= 24*time.Hour
	default:
		return true
	}
}

// statusFilter parses a comma-separated "status" search value into the
// set of statuses it accepts (FHIR's OR-within-parameter semantics).
func statusFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		out[strings.TrimSpace(s)] = true
	}
	return out
}
