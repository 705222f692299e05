package blocksync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/collab/fake"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
)

func testSyncConfig() Config {
	return Config{
		NeedNextInterval:                 10 * time.Millisecond,
		PeerRefreshInterval:              time.Second,
		DisconnectDishonestPeersInterval: time.Second,
		LatchResetInterval:               time.Second,
		GetFromPeerTimeout:               100 * time.Millisecond,
		MaxParallelTrieFetches:           4,
		MaxAttempts:                      3,
	}
}

func testPeerBookConfig() peer.Config {
	return peer.Config{
		BlocklistRetainMinDuration:          time.Second,
		BlocklistRetainMaxDuration:          2 * time.Second,
		TarpitVersionThreshold:              0,
		MaxOutgoingByteRateNonValidators:    1 << 20,
		MaxIncomingMessageRateNonValidators: 1000,
	}
}

func TestRegisterBlockSpawnsBuilderOnce(t *testing.T) {
	book := peer.NewBook(testPeerBookConfig())
	book.Add("peer-1", 1, false)
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute}, nil, nil)

	s := New(testSyncConfig(), log.NewNopLogger(), book, transport, storage, acc)
	hash := types.Hash{0x01}
	s.RegisterBlock(hash, 10, Forward, 1)
	require.True(t, s.HasBuilder(Forward))

	// A lower, non-dominating height must not replace the existing builder.
	s.RegisterBlock(types.Hash{0x02}, 5, Forward, 1)
	require.Equal(t, hash, s.forward.BlockHash)

	// A strictly higher height does replace it.
	higher := types.Hash{0x03}
	s.RegisterBlock(higher, 20, Forward, 1)
	require.Equal(t, higher, s.forward.BlockHash)
}

func TestNeedNextTickDispatchesHeaderFetch(t *testing.T) {
	book := peer.NewBook(testPeerBookConfig())
	book.Add("peer-1", 1, false)
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute}, nil, nil)

	s := New(testSyncConfig(), log.NewNopLogger(), book, transport, storage, acc)
	hash := types.Hash{0x01}
	s.RegisterBlock(hash, 10, Forward, 1)

	s.NeedNextTick(context.Background())
	require.Len(t, transport.Sent, 1)
	require.Equal(t, types.PeerID("peer-1"), transport.Sent[0].To)
}

func TestPeerRefreshTickUpdatesBuilderSnapshot(t *testing.T) {
	book := peer.NewBook(testPeerBookConfig())
	book.Add("peer-1", 1, false)
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute}, nil, nil)

	s := New(testSyncConfig(), log.NewNopLogger(), book, transport, storage, acc)
	hash := types.Hash{0x01}
	s.RegisterBlock(hash, 10, Forward, 1)
	require.Empty(t, s.forward.peers)

	s.PeerRefreshTick()
	require.Equal(t, []types.PeerID{"peer-1"}, s.forward.peers)
}

func TestCompletedBuilderRetiresAndStoresBlock(t *testing.T) {
	book := peer.NewBook(testPeerBookConfig())
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute}, nil, nil)

	s := New(testSyncConfig(), log.NewNopLogger(), book, transport, storage, acc)
	hash := types.Hash{0x01}
	s.RegisterBlock(hash, 10, Forward, 1)

	b := s.forward
	require.NoError(t, b.OnHeaderFetched(types.Header{Height: 10}, hash, "peer-1"))
	require.NoError(t, b.OnApprovalsHashesFetched(types.ApprovalsHashes{BlockHash: hash}, "peer-1"))
	require.NoError(t, b.OnBodyFetched([]byte("body"), true, "peer-1"))
	vs := &types.ValidatorSet{TotalWeight: 10, Validators: []types.ValidatorWeight{{PublicKey: []byte("v1"), Weight: 10}}}
	b.OnFinalitySignatureFetched(acc, types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, true, "peer-1")
	require.Equal(t, Complete, b.Tag())

	report := s.NeedNextTick(context.Background())
	require.Len(t, report.Completed, 1)
	require.False(t, s.HasBuilder(Forward))

	stored, err := storage.GetBlockByHeight(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, hash, stored.Hash)
}
