package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/blocksync"
	"github.com/relaychain/noded/internal/collab/fake"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
)

func testConfig() Config {
	return Config{
		MinPeersForInitialization: 2,
		ControlLogicDefaultDelay:  10 * time.Millisecond,
		IdleTolerance:             time.Minute,
		MaxAttempts:               3,
		UpgradeTimeout:            time.Hour,
		ShutdownForUpgradeTimeout: time.Hour,
		SyncHandling:              SyncHandlingTTL,
	}
}

func newTestReactor(t *testing.T, cfg Config) *Reactor {
	t.Helper()
	book := peer.NewBook(peer.Config{
		BlocklistRetainMinDuration:          time.Second,
		BlocklistRetainMaxDuration:          2 * time.Second,
		MaxOutgoingByteRateNonValidators:    1 << 20,
		MaxIncomingMessageRateNonValidators: 1000,
	})
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute, AttemptExecutionThreshold: 10}, nil, nil)
	sync := blocksync.New(blocksync.Config{
		NeedNextInterval:                 10 * time.Millisecond,
		PeerRefreshInterval:              time.Second,
		DisconnectDishonestPeersInterval: time.Second,
		LatchResetInterval:               time.Second,
		GetFromPeerTimeout:               100 * time.Millisecond,
		MaxParallelTrieFetches:           4,
		MaxAttempts:                      3,
	}, log.NewNopLogger(), book, transport, storage, acc)
	consensus := fake.NewConsensusEngine(nil, 1000, 3)

	return New(cfg, log.NewNopLogger(), sync, acc, consensus, storage, NopMetrics())
}

func TestInitializeAdvancesOncePeerThresholdMet(t *testing.T) {
	r := newTestReactor(t, testConfig())
	require.Equal(t, Initialize, r.State())

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 1}))
	require.Equal(t, Initialize, r.State())

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2}))
	require.Equal(t, CatchUp, r.State())
}

func TestCatchUpAdvancesToKeepUpOnceCaughtUp(t *testing.T) {
	r := newTestReactor(t, testConfig())
	r.state = CatchUp
	r.SetTipCandidate(TipCandidate{Hash: types.Hash{0x01}, Height: 10, Weight: 7})

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2, LocalHigh: 5}))
	require.Equal(t, CatchUp, r.State())

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2, LocalHigh: 10}))
	require.Equal(t, KeepUp, r.State())
}

func TestNoSyncHandlingSkipsCatchUp(t *testing.T) {
	cfg := testConfig()
	cfg.SyncHandling = SyncHandlingNoSync
	r := newTestReactor(t, cfg)
	r.state = CatchUp

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2}))
	require.Equal(t, KeepUp, r.State())
}

func TestKeepUpEntersValidateOnlyWhenCurrentEraValidator(t *testing.T) {
	r := newTestReactor(t, testConfig())
	r.state = KeepUp
	r.SetValidatorStatus(ValidatorFutureEra)

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2}))
	require.Equal(t, KeepUp, r.State())

	r.SetValidatorStatus(ValidatorCurrentEra)
	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2}))
	require.Equal(t, Validate, r.State())
}

func TestNoSyncHandlingNeverEntersValidate(t *testing.T) {
	cfg := testConfig()
	cfg.SyncHandling = SyncHandlingNoSync
	r := newTestReactor(t, cfg)
	r.state = KeepUp
	r.SetValidatorStatus(ValidatorCurrentEra)

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 2}))
	require.Equal(t, KeepUp, r.State())
}

func TestUpgradeTimeoutReturnsFatalError(t *testing.T) {
	cfg := testConfig()
	cfg.UpgradeTimeout = -time.Second // already expired
	r := newTestReactor(t, cfg)
	r.state = Upgrading
	r.upgradeActivation = &types.ActivationPoint{EraID: 5}
	r.upgradeDeadline = r.now().Add(cfg.UpgradeTimeout)

	err := r.ControlTick(context.Background(), Inputs{PeerCount: 2})
	require.Error(t, err)
}

func TestPreventValidatorShutdownSuppressesRequestedShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.PreventValidatorShutdown = true
	r := newTestReactor(t, cfg)
	r.state = Validate
	r.SetValidatorStatus(ValidatorCurrentEra)

	r.RequestShutdown()
	require.Equal(t, Validate, r.State(), "prevent_validator_shutdown must suppress the controlled-shutdown heuristic")
}

func TestShutdownProceedsWhenNotAValidator(t *testing.T) {
	cfg := testConfig()
	cfg.PreventValidatorShutdown = true
	r := newTestReactor(t, cfg)
	r.state = KeepUp

	r.RequestShutdown()
	require.Equal(t, ShutdownAfterCatchingUp, r.State())
}

func TestIdleToleranceExceededResetsBuildersAndCountsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTolerance = 0
	cfg.MaxAttempts = 1
	r := newTestReactor(t, cfg)
	r.lastProgress = r.now().Add(-time.Hour)

	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 0}))
	require.NoError(t, r.ControlTick(context.Background(), Inputs{PeerCount: 0}))
	require.Equal(t, 0, r.attempts, "attempts counter resets once max_attempts is exceeded")
}

func TestTieBreakPrefersHighestWeightThenSmallestHash(t *testing.T) {
	candidates := []TipCandidate{
		{Hash: types.Hash{0x02}, Height: 10, Weight: 5},
		{Hash: types.Hash{0x01}, Height: 10, Weight: 5},
		{Hash: types.Hash{0x09}, Height: 10, Weight: 9},
	}
	best, ok := TieBreak(candidates)
	require.True(t, ok)
	require.Equal(t, types.Hash{0x09}, best.Hash)

	tied := []TipCandidate{
		{Hash: types.Hash{0x02}, Height: 10, Weight: 5},
		{Hash: types.Hash{0x01}, Height: 10, Weight: 5},
	}
	best, ok = TieBreak(tied)
	require.True(t, ok)
	require.Equal(t, types.Hash{0x01}, best.Hash)
}

func TestStartStopDoesNotLeakGoroutines(t *testing.T) {
	defer leaktest.Check(t)()

	r := newTestReactor(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	r.Wait()
}
