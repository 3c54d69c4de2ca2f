package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := New().Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "got %v", got)
}

func TestFixedAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	clk := NewFixed(start)
	require.Equal(t, start, clk.Now())
	clk.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), clk.Now())
}
