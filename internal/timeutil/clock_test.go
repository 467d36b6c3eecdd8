package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockClockSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Sleep(100 * time.Millisecond)
	c.Sleep(250 * time.Millisecond)

	require.Equal(t, start.Add(350*time.Millisecond), c.Now())
	require.Equal(t, []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}, c.Sleeps())
	require.Equal(t, 350*time.Millisecond, c.Since(start))
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(time.Second)

	require.Equal(t, time.Second, c.Since(start))
	require.Empty(t, c.Sleeps())
}
