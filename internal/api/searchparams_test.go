package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateParamDefaultsToEq(t *testing.T) {
	f, ok := parseDateParam("2026-01-01")
	require.True(t, ok)
	assert.Equal(t, cmpEQ, f.cmp)
}

func TestParseDateParamRecognisesComparatorPrefix(t *testing.T) {
	f, ok := parseDateParam("ge2026-01-01")
	require.True(t, ok)
	assert.Equal(t, cmpGE, f.cmp)
}

func TestParseDateParamRejectsGarbage(t *testing.T) {
	_, ok := parseDateParam("not-a-date")
	assert.False(t, ok)
}

func TestDateFilterMatchesComparators(t *testing.T) {
	anchor, err := time.Parse("2006-01-02", "2026-06-15")
	require.NoError(t, err)

	after := anchor.Add(48 * time.Hour)
	before := anchor.Add(-48 * time.Hour)

	assert.True(t, dateFilter{cmp: cmpGT, at: anchor}.Matches(after))
	assert.False(t, dateFilter{cmp: cmpGT, at: anchor}.Matches(before))
	assert.True(t, dateFilter{cmp: cmpLE, at: anchor}.Matches(anchor))
	assert.True(t, dateFilter{cmp: cmpAP, at: anchor}.Matches(anchor.Add(time.Hour)))
	assert.False(t, dateFilter{cmp: cmpAP, at: anchor}.Matches(after))
}

func TestStatusFilterSplitsCommaList(t *testing.T) {
	f := statusFilter("ready, in-progress")
	assert.True(t, f["ready"])
	assert.True(t, f["in-progress"])
	assert.False(t, f["completed"])
}

func TestStatusFilterEmptyMeansNoFilter(t *testing.T) {
	assert.Nil(t, statusFilter(""))
}
