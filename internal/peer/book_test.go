package peer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/types"
)

func testConfig() Config {
	return Config{
		BlocklistRetainMinDuration:          100 * time.Millisecond,
		BlocklistRetainMaxDuration:           200 * time.Millisecond,
		TarpitVersionThreshold:               2,
		TarpitChance:                         1.0,
		TarpitDuration:                       time.Second,
		MaxOutgoingByteRateNonValidators:     1 << 20,
		MaxIncomingMessageRateNonValidators:  100,
	}
}

func TestBlocklistRetainsForAtLeastMinDuration(t *testing.T) {
	b := NewBook(testConfig())
	b.Add("peer-1", 3, false)

	start := time.Now()
	b.Blocklist("peer-1")
	require.True(t, b.IsBlocked("peer-1"))

	// The randomized duration must never be shorter than the configured
	// minimum (invariant 4).
	expired := b.SweepExpired(start.Add(testConfig().BlocklistRetainMinDuration - time.Millisecond))
	require.Empty(t, expired)
	require.True(t, b.IsBlocked("peer-1"))
}

func TestSweepExpiredEventuallyUnblocks(t *testing.T) {
	b := NewBook(testConfig())
	b.Add("peer-1", 3, false)
	b.Blocklist("peer-1")

	expired := b.SweepExpired(time.Now().Add(time.Hour))
	require.Contains(t, expired, types.PeerID("peer-1"))
	require.False(t, b.IsBlocked("peer-1"))
}

func TestFlagDishonestExcludesFromQuery(t *testing.T) {
	b := NewBook(testConfig())
	b.Add("peer-1", 3, false)
	b.Add("peer-2", 3, false)

	b.FlagDishonest("peer-1")

	picked := b.Query(QueryOpts{Limit: 10})
	require.NotContains(t, picked, types.PeerID("peer-1"))
	require.Contains(t, picked, types.PeerID("peer-2"))
}

func TestShouldTarpitOldProtocolVersion(t *testing.T) {
	b := NewBook(testConfig())
	tarpit, d := b.ShouldTarpit(1)
	require.True(t, tarpit)
	require.Equal(t, time.Second, d)

	tarpit, _ = b.ShouldTarpit(5)
	require.False(t, tarpit)
}

func TestQueryNeverReturnsDuplicates(t *testing.T) {
	b := NewBook(testConfig())
	for i := 0; i < 5; i++ {
		b.Add(types.PeerID(fmt.Sprintf("peer-%d", i)), 3, false)
	}
	picked := b.Query(QueryOpts{Limit: 5})
	seen := make(map[types.PeerID]bool)
	for _, id := range picked {
		require.False(t, seen[id], "duplicate peer returned by Query")
		seen[id] = true
	}
}
