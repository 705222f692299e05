package catchup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/types"
)

func TestLeapCacheHitWithinTTL(t *testing.T) {
	c := NewLeapCache(time.Minute)
	hash := types.Hash{0x01}
	c.Put(Leap{TrustedHash: hash, TipHeight: 100})

	got, ok := c.Get(hash)
	require.True(t, ok)
	require.Equal(t, uint64(100), got.TipHeight)
}

func TestLeapCacheExpiresAfterTTL(t *testing.T) {
	c := NewLeapCache(time.Minute)
	hash := types.Hash{0x01}
	c.Put(Leap{TrustedHash: hash})

	frozen := time.Now().Add(2 * time.Minute)
	c.now = func() time.Time { return frozen }

	_, ok := c.Get(hash)
	require.False(t, ok)
}

func TestLeapCacheEvict(t *testing.T) {
	c := NewLeapCache(time.Minute)
	hash := types.Hash{0x01}
	c.Put(Leap{TrustedHash: hash})
	c.Evict(hash)

	_, ok := c.Get(hash)
	require.False(t, ok)
}
