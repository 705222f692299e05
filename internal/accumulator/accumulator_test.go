package accumulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/types"
)

func testValidatorSet() *types.ValidatorSet {
	return &types.ValidatorSet{
		EraID: 1,
		Validators: []types.ValidatorWeight{
			{PublicKey: []byte("v1"), Weight: 10},
			{PublicKey: []byte("v2"), Weight: 10},
			{PublicKey: []byte("v3"), Weight: 10},
		},
		TotalWeight: 30,
	}
}

func newTestAccumulator(onPromote func(types.Hash, uint64, PromotionAdvice)) *Accumulator {
	return New(Config{
		PurgeInterval:             time.Second,
		DeadAirInterval:           time.Minute,
		AttemptExecutionThreshold: 5,
	}, onPromote, nil)
}

func TestRegisterFinalitySignatureIsIdempotent(t *testing.T) {
	a := newTestAccumulator(nil)
	vs := testValidatorSet()
	hash := types.Hash{0x01}
	sig := types.FinalitySignature{BlockHash: hash, EraID: 1, PublicKey: []byte("v1")}

	a.RegisterFinalitySignature(sig, vs, true, "peer-1", Weak)
	before := a.Weight(hash)
	a.RegisterFinalitySignature(sig, vs, true, "peer-1", Weak)
	require.Equal(t, before, a.Weight(hash))
}

func TestWeakFinalityPromotesAtOverOneThird(t *testing.T) {
	var promoted bool
	a := newTestAccumulator(func(types.Hash, uint64, PromotionAdvice) { promoted = true })
	vs := testValidatorSet()
	hash := types.Hash{0x02}
	a.SetLocalTip(100)
	a.RegisterAnnouncement(hash, 101, true, "peer-1")

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, true, "peer-1", Weak)
	require.False(t, promoted, "10/30 should not cross the weak threshold of 11")

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v2")}, vs, true, "peer-1", Weak)
	require.True(t, promoted, "20/30 should cross the weak threshold")
}

func TestStrictFinalityRequiresTwoThirds(t *testing.T) {
	var promoted bool
	a := newTestAccumulator(func(types.Hash, uint64, PromotionAdvice) { promoted = true })
	vs := testValidatorSet()
	hash := types.Hash{0x03}

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, true, "peer-1", Strict)
	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v2")}, vs, true, "peer-1", Strict)
	require.False(t, promoted, "20/30 should not cross the strict threshold of 21")

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v3")}, vs, true, "peer-1", Strict)
	require.True(t, promoted)
}

func TestUnverifiedSignatureFlagsDishonestAndContributesNothing(t *testing.T) {
	var dishonestPeer types.PeerID
	a := New(Config{PurgeInterval: time.Second, DeadAirInterval: time.Minute}, nil, func(p types.PeerID) { dishonestPeer = p })
	vs := testValidatorSet()
	hash := types.Hash{0x04}

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, false, "peer-1", Weak)
	require.Equal(t, types.PeerID("peer-1"), dishonestPeer)
	require.Equal(t, uint64(0), a.Weight(hash))
}

func TestPurgeDropsDeadAcceptors(t *testing.T) {
	a := newTestAccumulator(nil)
	hash := types.Hash{0x05}
	a.RegisterAnnouncement(hash, 1, true, "peer-1")
	frozen := time.Now().Add(2 * time.Minute)
	a.now = func() time.Time { return frozen }

	purged := a.Purge()
	require.Contains(t, purged, hash)
	require.Equal(t, 0, a.Len())
}

func TestFarFutureAnnouncementIsInformationalOnly(t *testing.T) {
	a := newTestAccumulator(nil)
	vs := testValidatorSet()
	hash := types.Hash{0x06}
	a.SetLocalTip(0)
	a.RegisterAnnouncement(hash, 1000, true, "peer-1")

	a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v1")}, vs, true, "peer-1", Weak)
	advice := a.RegisterFinalitySignature(types.FinalitySignature{BlockHash: hash, PublicKey: []byte("v2")}, vs, true, "peer-1", Weak)
	require.Equal(t, AdviseInformationalOnly, advice)
}
