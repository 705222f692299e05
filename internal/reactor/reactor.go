package reactor

import (
	"context"
	"time"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/blocksync"
	"github.com/relaychain/noded/internal/bus"
	"github.com/relaychain/noded/internal/catchup"
	"github.com/relaychain/noded/internal/collab"
	"github.com/relaychain/noded/internal/dispatch"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/internal/reactorerr"
	"github.com/relaychain/noded/libs/service"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
)

// Config bundles the reactor's tunables, named directly in the config
// package's BaseConfig.
type Config struct {
	MinPeersForInitialization int
	ControlLogicDefaultDelay  time.Duration
	IdleTolerance             time.Duration
	MaxAttempts               int
	UpgradeTimeout            time.Duration
	ShutdownForUpgradeTimeout time.Duration
	PreventValidatorShutdown  bool
	SyncHandling              SyncHandling
	ForceResync               bool
}

// Reactor is the top-level state machine of §4.1. It owns the
// synchronizer and accumulator, and is driven exclusively by ControlTick
// — it never blocks on I/O itself.
type Reactor struct {
	service.BaseService

	cfg    Config
	logger log.Logger

	state State

	lastProgress  time.Time
	attempts      int
	tipCandidate  TipCandidate
	haveTip       bool
	progress      progressCoalescer
	validatorStat ValidatorStatus

	upgradeActivation   *types.ActivationPoint
	upgradeDeadline      time.Time
	shutdownForUpgradeAt time.Time

	sync     *blocksync.Synchronizer
	acc      *accumulator.Accumulator
	consensus collab.ConsensusEngine
	storage   collab.Storage

	// bus and book are optional: when AttachDispatch has set them, OnStart
	// also runs a background event dispatcher against them. OnStart starts
	// the synchronizer loop whether or not they are set, and state
	// advances only via ControlTick calls either way.
	bus  *bus.Bus
	book *peer.Book

	leap        *catchup.Requester
	trustedHash *types.Hash
	leapIssued  bool

	metrics *Metrics

	now func() time.Time
}

func New(
	cfg Config,
	logger log.Logger,
	sync *blocksync.Synchronizer,
	acc *accumulator.Accumulator,
	consensus collab.ConsensusEngine,
	storage collab.Storage,
	metrics *Metrics,
) *Reactor {
	r := &Reactor{
		cfg:       cfg,
		logger:    logger.With("module", "reactor"),
		state:     Initialize,
		sync:      sync,
		acc:       acc,
		consensus: consensus,
		storage:   storage,
		metrics:   metrics,
		now:       time.Now,
	}
	r.lastProgress = r.now()
	r.BaseService = *service.NewBaseService(r.logger, "Reactor", r)
	return r
}

// AttachDispatch wires the control bus and peer book that OnStart uses to
// drive a background event dispatcher (the synchronizer loop is started
// without them). Must be called before Start.
func (r *Reactor) AttachDispatch(b *bus.Bus, book *peer.Book) {
	r.bus = b
	r.book = book
}

// AttachSyncLeap wires the sync-leap requester and trusted hash CatchUp
// uses to find a trusted tip, per §4.1. Without it, CatchUp relies
// entirely on forward-synced announcements reaching the accumulator.
func (r *Reactor) AttachSyncLeap(requester *catchup.Requester, trustedHash types.Hash) {
	r.leap = requester
	r.trustedHash = &trustedHash
}

func (r *Reactor) OnStart(ctx context.Context) error {
	go r.sync.Run(ctx, r.TouchProgress)
	if r.bus != nil && r.book != nil {
		d := dispatch.New(r.logger, r.bus, r.sync, r.acc, r.book, r.leap)
		go d.Run(ctx)
	}
	return nil
}

func (r *Reactor) OnStop() {}

// State reports the reactor's current state.
func (r *Reactor) State() State { return r.state }

// TouchProgress records that some component made progress this tick,
// coalesced so repeated touches inside one ControlTick call produce a
// single last_progress update.
func (r *Reactor) TouchProgress() { r.progress.touch(r.now()) }

// SetTipCandidate records the accumulator's current best next forward
// target, applying the tie-break rule of §4.1 if called with several
// candidates observed at the same height.
func (r *Reactor) SetTipCandidate(candidates ...TipCandidate) {
	best, ok := TieBreak(candidates)
	if !ok {
		return
	}
	r.tipCandidate = best
	r.haveTip = true
}

// SetValidatorStatus updates the reactor's view of whether this node is a
// validator, and of which era — the gate KeepUp applies before handing
// off to Validate.
func (r *Reactor) SetValidatorStatus(status ValidatorStatus) { r.validatorStat = status }

// ScheduleUpgrade records a pending protocol upgrade at activation,
// consulted by the CatchUp/KeepUp exit conditions.
func (r *Reactor) ScheduleUpgrade(activation types.ActivationPoint) {
	r.upgradeActivation = &activation
}

// Inputs carries the minimal signals ControlTick needs from outside the
// reactor (peer count, whether an upgrade activation point has been
// crossed, and the local high block); passed in per call rather than pulled via a
// live dependency, so ControlTick stays a pure function of its inputs
// plus the reactor's own state — consistent with the "no coroutine-style
// control inside reducers" discipline of §5.
type Inputs struct {
	PeerCount          int
	HasUpgradeCrossed  bool
	LocalHigh          uint64
}

// ControlTick evaluates the periodic control logic of §4.1: synchronizer
// progress staleness, state advancement, and historical-backfill
// decisions. It returns a fatal error if one of the error kinds of §7
// that warrants controlled shutdown has occurred.
func (r *Reactor) ControlTick(ctx context.Context, in Inputs) error {
	now := r.now()

	if touchedAt, ok := r.progress.flush(); ok {
		r.lastProgress = touchedAt
		r.attempts = 0
	} else if now.Sub(r.lastProgress) > r.cfg.IdleTolerance {
		r.attempts++
		if r.attempts > r.cfg.MaxAttempts {
			r.logger.Error("synchronizer stalled, resetting", "state", r.state.String(), "attempts", r.attempts)
			r.sync.Cancel(blocksync.Forward)
			r.sync.Cancel(blocksync.Historical)
			r.attempts = 0
			r.lastProgress = now
			if r.metrics != nil {
				r.metrics.StallsDetected.Add(1)
			}
		}
	}

	r.acc.SetLocalTip(in.LocalHigh)

	switch r.state {
	case Initialize:
		if in.PeerCount >= r.cfg.MinPeersForInitialization {
			r.transitionTo(CatchUp)
		}

	case CatchUp:
		if r.leap != nil && r.trustedHash != nil && !r.leapIssued && !r.haveTip && !r.sync.HasBuilder(blocksync.Forward) {
			target := r.leapTarget()
			if target != "" {
				if err := r.leap.Request(ctx, *r.trustedHash, target); err != nil {
					r.logger.Error("sync-leap request failed", "err", err, "peer", target)
				} else {
					r.leapIssued = true
				}
			}
		}
		switch {
		case in.HasUpgradeCrossed:
			r.upgradeDeadline = now.Add(r.cfg.UpgradeTimeout)
			r.transitionTo(Upgrading)
		case r.cfg.SyncHandling == SyncHandlingIsolated:
			// Remain in an Initialize-like steady state, no peers.
		case r.cfg.SyncHandling == SyncHandlingNoSync:
			r.transitionTo(KeepUp)
		case r.caughtUpToTip(in):
			r.transitionTo(KeepUp)
		}
		if r.cfg.ForceResync {
			r.lastProgress = now
			r.attempts = 0
		}

	case Upgrading:
		if now.After(r.upgradeDeadline) {
			return &reactorerr.UpgradeTimeout{Activation: *r.upgradeActivation}
		}
		// Exit to KeepUp is driven externally once the contract runtime
		// reports the upgrade committed; see CommitUpgradeComplete.

	case KeepUp:
		if r.validatorStat == ValidatorCurrentEra && r.cfg.SyncHandling.CanEnterValidate() {
			r.transitionTo(Validate)
		}
		if r.upgradeActivation != nil && in.HasUpgradeCrossed && r.shutdownForUpgradeAt.IsZero() {
			r.shutdownForUpgradeAt = now.Add(r.cfg.ShutdownForUpgradeTimeout)
		}
		if !r.shutdownForUpgradeAt.IsZero() && now.After(r.shutdownForUpgradeAt) {
			r.forceShutdownForUpgrade()
		}

	case Validate:
		// Non-terminal except via shutdown or upgrade; entry already
		// gated above. Nothing further to evaluate here — consensus
		// delivery happens off the control tick, via DeliverFinalized.

	case ShutdownForUpgrade, ShutdownAfterCatchingUp:
		// Terminal.
	}

	return nil
}

// leapTarget picks a peer to address a sync-leap request to, from
// whatever the peer book currently knows about. Returns "" if the book
// is unattached or empty.
func (r *Reactor) leapTarget() types.PeerID {
	if r.book == nil {
		return ""
	}
	peers := r.book.Query(peer.QueryOpts{Limit: 1})
	if len(peers) == 0 {
		return ""
	}
	return peers[0]
}

// caughtUpToTip reports whether the synchronizer believes it has reached
// the accumulator's current best tip candidate.
func (r *Reactor) caughtUpToTip(in Inputs) bool {
	if !r.haveTip {
		return !r.sync.HasBuilder(blocksync.Forward) && in.LocalHigh > 0
	}
	return in.LocalHigh >= r.tipCandidate.Height
}

func (r *Reactor) transitionTo(s State) {
	r.logger.Info("reactor state transition", "from", r.state.String(), "to", s.String())
	r.state = s
	if r.metrics != nil {
		r.metrics.State.Set(float64(s))
		r.metrics.Transitions.Add(1)
	}
}

// CommitUpgradeComplete is called once the contract runtime collaborator
// reports the upgrade committed, exiting Upgrading per §4.1.
func (r *Reactor) CommitUpgradeComplete() {
	if r.state != Upgrading {
		return
	}
	r.upgradeActivation = nil
	r.transitionTo(KeepUp)
}

// RequestShutdown is a controlled-shutdown heuristic firing (not an OS
// signal). If prevent_validator_shutdown applies and this node is a
// validator in the current era, the request is ignored and the reactor
// remains in Validate.
func (r *Reactor) RequestShutdown() {
	if r.cfg.PreventValidatorShutdown && r.state == Validate && r.validatorStat == ValidatorCurrentEra {
		r.logger.Info("ignoring controlled-shutdown heuristic: prevent_validator_shutdown applies")
		return
	}
	r.transitionTo(ShutdownAfterCatchingUp)
}

// forceShutdownForUpgrade unconditionally transitions to
// ShutdownForUpgrade once shutdown_for_upgrade_timeout has elapsed, even
// under prevent_validator_shutdown — that suppression only applies to the
// controlled-shutdown heuristic, not to a forced upgrade deadline.
func (r *Reactor) forceShutdownForUpgrade() {
	r.transitionTo(ShutdownForUpgrade)
}

// HandleFatal applies the policy of §7: storage and upgrade failures are
// fatal and cause controlled shutdown, unless prevent_validator_shutdown
// applies and the cause is non-storage.
func (r *Reactor) HandleFatal(err error) {
	if reactorerr.IsSuppressible(err) && r.cfg.PreventValidatorShutdown &&
		r.state == Validate && r.validatorStat == ValidatorCurrentEra {
		r.logger.Error("suppressing fatal error under prevent_validator_shutdown", "err", err)
		return
	}
	r.logger.Error("fatal error, shutting down", "err", err)
	r.transitionTo(ShutdownAfterCatchingUp)
}
