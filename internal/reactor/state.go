// Package reactor implements the top-level reactor state machine of
// §4.1: Initialize → CatchUp → (Upgrading) → KeepUp → Validate, with
// ShutdownForUpgrade and ShutdownAfterCatchingUp as terminals. It owns
// the block synchronizer and accumulator, and periodically runs a
// control tick that observes their progress and drives transitions.
package reactor

import (
	"time"

	"github.com/relaychain/noded/types"
)

// State is a tagged variant over the seven reactor states. Representing
// it as a sum type with data carried alongside (on Reactor, not on State
// itself) rather than a class hierarchy makes every transition a plain
// switch, and makes "is this transition legal" a pure function of the
// current tag.
type State int

const (
	Initialize State = iota
	CatchUp
	Upgrading
	KeepUp
	Validate
	ShutdownForUpgrade
	ShutdownAfterCatchingUp
)

func (s State) String() string {
	switch s {
	case Initialize:
		return "initialize"
	case CatchUp:
		return "catch_up"
	case Upgrading:
		return "upgrading"
	case KeepUp:
		return "keep_up"
	case Validate:
		return "validate"
	case ShutdownForUpgrade:
		return "shutdown_for_upgrade"
	case ShutdownAfterCatchingUp:
		return "shutdown_after_catching_up"
	default:
		return "unknown"
	}
}

func (s State) IsTerminal() bool {
	return s == ShutdownForUpgrade || s == ShutdownAfterCatchingUp
}

// SyncHandling governs whether and how a node pursues historical
// backfill and whether it may ever enter Validate.
type SyncHandling int

const (
	SyncHandlingTTL     SyncHandling = iota // normal operation: backfill within a TTL window
	SyncHandlingGenesis                     // backfill all the way to genesis
	SyncHandlingNoSync                      // never attempt historical backfill
	SyncHandlingIsolated                    // remain in an Initialize-like steady state, no peers
)

// CanEnterValidate reports whether sh permits the reactor to ever enter
// Validate. Per §4.1, nosync and isolated nodes are forbidden from ever
// entering Validate.
func (sh SyncHandling) CanEnterValidate() bool {
	return sh == SyncHandlingTTL || sh == SyncHandlingGenesis
}

// ValidatorStatus distinguishes not just "is this node a validator" but
// whether it is a validator of the upcoming era with that era's switch
// block locally available long enough to have built the upcoming
// validator sets — the gate the original node applies before allowing
// KeepUp to hand off to Validate.
type ValidatorStatus int

const (
	NotValidator ValidatorStatus = iota
	ValidatorFutureEra
	ValidatorCurrentEra
)

// TipCandidate is the identity of the highest block the accumulator
// currently believes is the best next forward target.
type TipCandidate struct {
	Hash   types.Hash
	Height uint64
	Weight uint64 // accumulated finality weight attributed by the accumulator
}

// TieBreak picks the preferred candidate among several seen at the same
// height: highest attached finality weight first, then the
// lexicographically smallest block hash, per §4.1.
func TieBreak(candidates []TipCandidate) (TipCandidate, bool) {
	if len(candidates) == 0 {
		return TipCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Weight > best.Weight {
			best = c
			continue
		}
		if c.Weight == best.Weight && c.Hash.String() < best.Hash.String() {
			best = c
		}
	}
	return best, true
}

// progressCoalescer coalesces repeated last_progress touches within the
// same control-tick window into a single update, rather than one per
// sub-component signaling progress.
type progressCoalescer struct {
	pending   bool
	touchedAt time.Time
}

func (c *progressCoalescer) touch(now time.Time) {
	c.pending = true
	c.touchedAt = now
}

// flush reports whether a touch is pending and clears it, returning the
// time of the most recent touch.
func (c *progressCoalescer) flush() (time.Time, bool) {
	if !c.pending {
		return time.Time{}, false
	}
	c.pending = false
	return c.touchedAt, true
}
