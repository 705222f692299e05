package blocksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/reactorerr"
	"github.com/relaychain/noded/types"
)

func TestNeedNextPollReturnsFalseWhileLatched(t *testing.T) {
	hash := types.Hash{0x01}
	b := NewBuilder(Forward, hash, 10, 1, 3)
	b.SetPeers([]types.PeerID{"peer-1"})

	_, ok := b.NeedNextPoll(time.Now(), time.Minute)
	require.True(t, ok)

	b.Dispatch(time.Now())
	_, ok = b.NeedNextPoll(time.Now(), time.Minute)
	require.False(t, ok, "a latched builder must not return a second need-next")
}

func TestOnHeaderFetchedMismatchFlagsDishonest(t *testing.T) {
	hash := types.Hash{0x01}
	wrongHash := types.Hash{0x02}
	b := NewBuilder(Forward, hash, 10, 1, 3)
	b.Dispatch(time.Now())

	err := b.OnHeaderFetched(types.Header{}, wrongHash, "peer-1")
	require.Error(t, err)
	var dishonest *reactorerr.PeerDishonest
	require.ErrorAs(t, err, &dishonest)
	require.Equal(t, NeedHeader, b.Tag(), "builder must not advance on a dishonest response")
	require.True(t, b.dishonest["peer-1"], "mismatched header must flag the peer dishonest")
}

func TestOnHeaderFetchedMatchAdvances(t *testing.T) {
	hash := types.Hash{0x01}
	b := NewBuilder(Forward, hash, 10, 1, 3)
	b.Dispatch(time.Now())

	err := b.OnHeaderFetched(types.Header{Height: 10}, hash, "peer-1")
	require.NoError(t, err)
	require.Equal(t, NeedApprovalsHashes, b.Tag())
}

func TestBuilderFailsAfterMaxAttempts(t *testing.T) {
	hash := types.Hash{0x01}
	b := NewBuilder(Forward, hash, 10, 1, 2)
	for i := 0; i < 2; i++ {
		b.Dispatch(time.Now())
		b.OnFetchFailed(&reactorerr.FetchFailed{Peer: "peer-1", Reason: reactorerr.FetchReasonTimeout})
	}
	require.Equal(t, Failed, b.Tag())
}

func TestPeerSetExhaustedWhenAllDishonest(t *testing.T) {
	hash := types.Hash{0x01}
	b := NewBuilder(Forward, hash, 10, 1, 3)
	b.SetPeers([]types.PeerID{"peer-1", "peer-2"})
	require.False(t, b.PeerSetExhausted())

	b.Dispatch(time.Now())
	_ = b.OnHeaderFetched(types.Header{}, types.Hash{0xFF}, "peer-1")
	b.Dispatch(time.Now())
	_ = b.OnHeaderFetched(types.Header{}, types.Hash{0xFF}, "peer-2")

	require.True(t, b.PeerSetExhausted())
}

func TestBuilderCompletesAndAssembles(t *testing.T) {
	hash := types.Hash{0x01}
	b := NewBuilder(Forward, hash, 10, 1, 3)

	require.NoError(t, b.OnHeaderFetched(types.Header{Height: 10}, hash, "peer-1"))
	require.NoError(t, b.OnApprovalsHashesFetched(types.ApprovalsHashes{BlockHash: hash}, "peer-1"))
	require.NoError(t, b.OnBodyFetched([]byte("body"), true, "peer-1"))

	vs := &types.ValidatorSet{TotalWeight: 10, Validators: []types.ValidatorWeight{{PublicKey: []byte("v1"), Weight: 10}}}
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute}, nil, nil)
	complete := b.OnFinalitySignatureFetched(acc, types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, true, "peer-1")
	require.True(t, complete)
	require.Equal(t, Complete, b.Tag())

	blk, ok := b.Assembled()
	require.True(t, ok)
	require.Equal(t, hash, blk.Hash)
}
