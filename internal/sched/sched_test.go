package sched

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLowPrioRunsImmediatelyWithNoHighPrio(t *testing.T) {
	s := New()
	ran := false
	err := s.RunLowPrio(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunLowPrioEventuallyRunsUnderSustainedHighPrio(t *testing.T) {
	s := New()
	token := s.AcquireHighPrio()
	defer token.Release()

	ran := false
	err := s.RunLowPrio(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "delay cap must force progress even with HighPrio work still live")
}

func TestRunLowPrioRunsImmediatelyOnceHighPrioReleased(t *testing.T) {
	s := New()
	token := s.AcquireHighPrio()
	assert.Equal(t, int64(1), s.HighPrioCount())
	token.Release()
	assert.Equal(t, int64(0), s.HighPrioCount())

	ran := false
	err := s.RunLowPrio(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunLowPrioRespectsCancellation(t *testing.T) {
	s := New()
	token := s.AcquireHighPrio()
	defer token.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunLowPrio(ctx, func() error {
		t.Fatal("fn must not run once context is cancelled mid-yield")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
