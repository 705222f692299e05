// Package accumulator implements the block accumulator: a map of
// block_hash to in-progress acceptor that collects gossiped announcements
// and finality signatures until a block can be promoted to a
// synchronizer target, or purged for inactivity.
package accumulator

import (
	"time"

	"github.com/relaychain/noded/types"
)

// FinalityLevel selects which weight threshold promotes an acceptor.
type FinalityLevel int

const (
	Weak   FinalityLevel = iota // > 1/3 of era weight
	Strict                      // > 2/3 of era weight
)

func (l FinalityLevel) Threshold(total uint64) uint64 {
	switch l {
	case Strict:
		return total*2/3 + 1
	default:
		return total/3 + 1
	}
}

// PromotionAdvice tells the synchronizer whether a promoted block is
// worth registering as a live forward target, or is informational only
// (e.g. a far-future announcement unreachable within
// attempt_execution_threshold).
type PromotionAdvice int

const (
	AdviseRegisterForward PromotionAdvice = iota
	AdviseInformationalOnly
)

type signatureKey struct {
	blockHash types.Hash
	signer    string
}

// acceptor is the per-block scratch state the accumulator maintains while
// a block is being attested to but not yet promoted.
type acceptor struct {
	blockHash  types.Hash
	height     uint64
	haveHeight bool
	sources    map[types.PeerID]bool

	signatures    map[signatureKey]types.FinalitySignature
	weight        uint64
	promoted      bool
	lastActivity  time.Time
}

func newAcceptor(blockHash types.Hash, now time.Time) *acceptor {
	return &acceptor{
		blockHash:    blockHash,
		sources:      make(map[types.PeerID]bool),
		signatures:   make(map[signatureKey]types.FinalitySignature),
		lastActivity: now,
	}
}

// EraSwitchBlockLookup resolves the switch block that closed the era
// preceding a block's own era, whose validator set governs its finality
// weight. The accumulator never reaches into Storage directly, so it
// stays synchronous and side-effect free. No component in this repository
// constructs or consumes an EraSwitchBlockLookup: RegisterFinalitySignature
// takes the already-resolved validator set as an argument instead.
type EraSwitchBlockLookup func(eraID uint64) (*types.ValidatorSet, bool)

// Accumulator is the block accumulator of §4.2.
type Accumulator struct {
	now            func() time.Time
	purgeInterval  time.Duration
	deadAirInterval time.Duration
	attemptExecutionThreshold uint64

	acceptors map[types.Hash]*acceptor

	// localTip and haveLocalTip are updated by the reactor on every
	// control tick so Purge and the attempt-execution-threshold check
	// can reason about reachability without calling back into Storage.
	localTip    uint64
	haveLocalTip bool

	onPromote func(blockHash types.Hash, height uint64, advice PromotionAdvice)
	onDishonest func(peer types.PeerID)
}

type Config struct {
	PurgeInterval             time.Duration
	DeadAirInterval           time.Duration
	AttemptExecutionThreshold uint64
}

func New(cfg Config, onPromote func(types.Hash, uint64, PromotionAdvice), onDishonest func(types.PeerID)) *Accumulator {
	return &Accumulator{
		now:                       time.Now,
		purgeInterval:             cfg.PurgeInterval,
		deadAirInterval:           cfg.DeadAirInterval,
		attemptExecutionThreshold: cfg.AttemptExecutionThreshold,
		acceptors:                 make(map[types.Hash]*acceptor),
		onPromote:                 onPromote,
		onDishonest:               onDishonest,
	}
}

// SetOnPromote wires the callback invoked when an acceptor crosses its
// finality threshold, once the synchronizer that should receive the
// promoted block as a forward target exists. Kept as a setter rather than
// a constructor argument because the synchronizer's own constructor takes
// the accumulator, making the two mutually dependent at construction time.
func (a *Accumulator) SetOnPromote(fn func(types.Hash, uint64, PromotionAdvice)) { a.onPromote = fn }

// SetOnDishonest wires the callback invoked when a signature fails
// verification, for the same two-phase-construction reason as
// SetOnPromote.
func (a *Accumulator) SetOnDishonest(fn func(types.PeerID)) { a.onDishonest = fn }

// SetLocalTip updates the accumulator's view of the locally finalized
// tip, consulted by RegisterFinalitySignature's reachability check and by
// Purge's below-tip safety margin.
func (a *Accumulator) SetLocalTip(height uint64) {
	a.localTip = height
	a.haveLocalTip = true
}

// RegisterAnnouncement creates or updates the acceptor for blockHash,
// attributing the source peer. height is optional (zero value means
// unknown yet).
func (a *Accumulator) RegisterAnnouncement(blockHash types.Hash, height uint64, haveHeight bool, from types.PeerID) {
	now := a.now()
	acc, ok := a.acceptors[blockHash]
	if !ok {
		acc = newAcceptor(blockHash, now)
		a.acceptors[blockHash] = acc
	}
	acc.sources[from] = true
	if haveHeight && !acc.haveHeight {
		acc.height = height
		acc.haveHeight = true
	}
	acc.lastActivity = now
}

// RegisterFinalitySignature appends a signature to the acceptor for
// sig.BlockHash. validators is the validator set of the switch block
// closing the era preceding sig.EraID — the caller must have confirmed it
// is locally available before calling; verified reports whether
// signature verification (performed by the ConsensusEngine collaborator)
// succeeded. Re-registering the same (block_hash, signer) pair is a
// no-op, satisfying idempotence.
func (a *Accumulator) RegisterFinalitySignature(
	sig types.FinalitySignature,
	validators *types.ValidatorSet,
	verified bool,
	from types.PeerID,
	level FinalityLevel,
) PromotionAdvice {
	if !verified {
		if a.onDishonest != nil {
			a.onDishonest(from)
		}
		return AdviseInformationalOnly
	}

	acc, ok := a.acceptors[sig.BlockHash]
	if !ok {
		acc = newAcceptor(sig.BlockHash, a.now())
		a.acceptors[sig.BlockHash] = acc
	}
	acc.lastActivity = a.now()

	key := signatureKey{blockHash: sig.BlockHash, signer: string(sig.PublicKey)}
	if _, dup := acc.signatures[key]; dup {
		return AdviseInformationalOnly // idempotent re-application
	}
	acc.signatures[key] = sig
	acc.weight += validators.WeightOf(sig.PublicKey)

	if acc.promoted {
		return AdviseInformationalOnly
	}

	threshold := level.Threshold(validators.TotalWeight)
	if acc.weight < threshold {
		return AdviseInformationalOnly
	}

	advice := AdviseInformationalOnly
	if acc.haveHeight && a.haveLocalTip && acc.height <= a.localTip+a.attemptExecutionThreshold {
		advice = AdviseRegisterForward
	}
	acc.promoted = true
	if a.onPromote != nil {
		a.onPromote(sig.BlockHash, acc.height, advice)
	}
	return advice
}

// Purge drops acceptors untouched for DeadAirInterval, or whose height is
// strictly below the local tip minus a small safety margin. It runs only
// when called: the reactor's control tick does not call it, and
// PurgeInterval is stored but not consulted.
func (a *Accumulator) Purge() []types.Hash {
	const safetyMargin = 2
	now := a.now()
	var purged []types.Hash
	for hash, acc := range a.acceptors {
		deadAir := now.Sub(acc.lastActivity) >= a.deadAirInterval
		belowTip := a.haveLocalTip && acc.haveHeight && acc.height+safetyMargin < a.localTip
		if deadAir || belowTip {
			purged = append(purged, hash)
			delete(a.acceptors, hash)
		}
	}
	return purged
}

// Weight returns the current accumulated weight for blockHash, for tests
// and metrics.
func (a *Accumulator) Weight(blockHash types.Hash) uint64 {
	acc, ok := a.acceptors[blockHash]
	if !ok {
		return 0
	}
	return acc.weight
}

// Len reports the number of acceptors currently tracked.
func (a *Accumulator) Len() int { return len(a.acceptors) }
