// Package reactorerr defines the concrete error kinds the reactor core
// switches on. Most are recovered locally by the component that produced
// them; a handful are escalated to the reactor's control tick, and a
// smaller set are fatal and cause a controlled shutdown.
package reactorerr

import (
	"fmt"

	"github.com/relaychain/noded/types"
)

// FetchReason classifies why a fetch failed, which in turn decides
// whether the offending peer should be blocklisted.
type FetchReason int

const (
	FetchReasonTimeout FetchReason = iota
	FetchReasonBadArtifact
	FetchReasonSignatureInvalid
	FetchReasonPeerUnreachable
)

// FetchFailed is transient; the builder retries against another peer and
// blocklists the offending one when Reason warrants it.
type FetchFailed struct {
	Peer   types.PeerID
	Reason FetchReason
}

func (e *FetchFailed) Error() string {
	return fmt.Sprintf("fetch failed from peer %s: %v", e.Peer, e.Reason)
}

// ShouldBlocklist reports whether the peer that produced this error
// should be blocklisted for it.
func (e *FetchFailed) ShouldBlocklist() bool {
	return e.Reason == FetchReasonBadArtifact || e.Reason == FetchReasonSignatureInvalid
}

// PeerDishonest causes an immediate blocklist and disconnect; any
// in-progress builder contribution from Peer is discarded.
type PeerDishonest struct {
	Peer     types.PeerID
	Evidence string
}

func (e *PeerDishonest) Error() string {
	return fmt.Sprintf("peer %s is dishonest: %s", e.Peer, e.Evidence)
}

// BuilderStalled is surfaced to the reactor and counts against
// max_attempts for the affected block.
type BuilderStalled struct {
	BlockHash types.Hash
}

func (e *BuilderStalled) Error() string {
	return fmt.Sprintf("builder stalled acquiring block %s", e.BlockHash)
}

// ExecutionFailed is fatal to the affected block. Chain-consistent
// reports whether every honest node would hit the same failure (true), as
// opposed to a local bug (false) — only the former pushes the reactor
// into an emergency state.
type ExecutionFailed struct {
	BlockHash         types.Hash
	Cause             error
	ChainConsistent bool
}

func (e *ExecutionFailed) Error() string {
	return fmt.Sprintf("execution failed for block %s: %v", e.BlockHash, e.Cause)
}

func (e *ExecutionFailed) Unwrap() error { return e.Cause }

// StorageCorrupted is fatal; the process exits non-zero.
type StorageCorrupted struct {
	Cause error
}

func (e *StorageCorrupted) Error() string { return fmt.Sprintf("storage corrupted: %v", e.Cause) }
func (e *StorageCorrupted) Unwrap() error { return e.Cause }

// UpgradeTimeout is fatal: the node failed to complete a scheduled
// protocol upgrade within upgrade_timeout.
type UpgradeTimeout struct {
	Activation types.ActivationPoint
}

func (e *UpgradeTimeout) Error() string {
	return fmt.Sprintf("upgrade at era %d timed out", e.Activation.EraID)
}

// ConfigInvalid is fatal at startup.
type ConfigInvalid struct {
	Field  string
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// IsFatal reports whether err is one of the error kinds that policy
// requires to cause a controlled shutdown, unless suppressed by
// prevent_validator_shutdown (which only suppresses non-storage fatal
// causes — StorageCorrupted is never suppressed).
func IsFatal(err error) bool {
	switch err.(type) {
	case *StorageCorrupted, *UpgradeTimeout, *ConfigInvalid:
		return true
	default:
		return false
	}
}

// IsSuppressible reports whether prevent_validator_shutdown is allowed to
// keep the reactor in Validate despite err being fatal.
func IsSuppressible(err error) bool {
	if _, ok := err.(*StorageCorrupted); ok {
		return false
	}
	return IsFatal(err)
}
