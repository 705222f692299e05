package blocksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatchBusyUntilRelease(t *testing.T) {
	var l latch
	now := time.Now()
	l.Dispatch(now)
	require.True(t, l.Busy(now, time.Minute))
	l.Release()
	require.False(t, l.Busy(now, time.Minute))
}

func TestLatchResetIntervalExpires(t *testing.T) {
	var l latch
	now := time.Now()
	l.Dispatch(now)
	require.False(t, l.Busy(now.Add(2*time.Second), time.Second))
}

func TestLatchResetClearsInFlight(t *testing.T) {
	var l latch
	now := time.Now()
	l.Dispatch(now)
	l.Reset()
	require.False(t, l.Busy(now, time.Minute))
}
