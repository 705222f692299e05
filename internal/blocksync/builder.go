package blocksync

import (
	"time"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/reactorerr"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

// highwayFinalityVersion is the protocol version below which blocks are
// finalized under Zug and only weak finality is attempted by a builder;
// at or above it blocks carry Highway's strict finality.
const highwayFinalityVersion version.Protocol = 2

// Builder walks a single block through the acquisition order of
// acquisition.go. It never blocks: NeedNext publishes what it wants
// fetched, and the On* methods feed responses back in from the
// synchronizer's event loop.
type Builder struct {
	Direction Direction
	BlockHash types.Hash
	Height    uint64

	tag   AcquisitionTag
	latch latch

	header          *types.Header
	approvalsHashes *types.ApprovalsHashes
	body            []byte
	executionResult *types.Hash // global-state root produced by execution, historical only
	trie            *trieFetcher

	finality       *accumulator.Accumulator
	finalityLevel  accumulator.FinalityLevel
	validatorSet   *types.ValidatorSet
	seenSigners    map[string]bool

	attempts    int
	maxAttempts int

	dishonest map[types.PeerID]bool
	peers     []types.PeerID // current snapshot, replaced wholesale by the synchronizer on peer refresh

	lastProgress time.Time
}

// NewBuilder starts a builder targeting blockHash at height, in the given
// direction. protocolVersion decides whether weak or strict finality is
// targeted, per §4.3.
func NewBuilder(dir Direction, blockHash types.Hash, height uint64, protocolVersion version.Protocol, maxAttempts int) *Builder {
	level := accumulator.Weak
	if protocolVersion >= highwayFinalityVersion {
		level = accumulator.Strict
	}
	return &Builder{
		Direction:     dir,
		BlockHash:     blockHash,
		Height:        height,
		tag:           NeedHeader,
		finalityLevel: level,
		seenSigners:   make(map[string]bool),
		dishonest:     make(map[types.PeerID]bool),
		maxAttempts:   maxAttempts,
		lastProgress:  time.Now(),
	}
}

// Tag reports the builder's current acquisition state.
func (b *Builder) Tag() AcquisitionTag { return b.tag }

// SetPeers replaces the builder's peer snapshot. Workers only ever see an
// immutable snapshot handed to them for one batch of fetches; this is the
// only way that snapshot is ever mutated, and it is only ever called from
// the synchronizer's event loop.
func (b *Builder) SetPeers(peers []types.PeerID) { b.peers = peers }

// NeedNextPoll returns the builder's current need-next descriptor, or
// false if the builder is latched, complete, or failed.
func (b *Builder) NeedNextPoll(now time.Time, latchResetInterval time.Duration) (NeedNext, bool) {
	if b.tag == Complete || b.tag == Failed {
		return NeedNext{}, false
	}
	if b.latch.Busy(now, latchResetInterval) {
		return NeedNext{}, false
	}
	nn := NeedNext{Tag: b.tag, BlockHash: b.BlockHash, Height: b.Height}
	if b.tag == NeedGlobalState && b.executionResult != nil {
		nn.StateRootHash = *b.executionResult
	}
	return nn, true
}

// Dispatch marks the current need-next as in flight.
func (b *Builder) Dispatch(now time.Time) { b.latch.Dispatch(now) }

// ResetLatch force-clears a stuck latch; called by the synchronizer's
// latch-reset tick.
func (b *Builder) ResetLatch() { b.latch.Reset() }

// advance moves the builder to the next acquisition tag and releases one
// in-flight count on the latch, recording progress.
func (b *Builder) advance() {
	b.latch.Release()
	b.attempts = 0
	b.tag = Next(b.tag, b.Direction)
	b.lastProgress = time.Now()
}

// fail transitions the builder to Failed.
func (b *Builder) fail() {
	b.latch.Release()
	b.tag = Failed
}

// OnFetchFailed records a failed fetch attempt against the current
// need-next. The builder retries up to maxAttempts times before failing
// outright.
func (b *Builder) OnFetchFailed(err *reactorerr.FetchFailed) {
	b.latch.Release()
	if err.ShouldBlocklist() {
		b.dishonest[err.Peer] = true
	}
	b.attempts++
	if b.attempts >= b.maxAttempts {
		b.fail()
	}
}

// OnHeaderFetched validates the header's identity against the requested
// BlockHash before accepting it: a mismatch means the peer is dishonest
// per §4.3, and its contribution is discarded.
func (b *Builder) OnHeaderFetched(header types.Header, computedHash types.Hash, from types.PeerID) error {
	if computedHash != b.BlockHash {
		b.latch.Release()
		b.dishonest[from] = true
		return &reactorerr.PeerDishonest{Peer: from, Evidence: "header hash does not match requested block hash"}
	}
	b.header = &header
	b.advance()
	return nil
}

func (b *Builder) OnApprovalsHashesFetched(ah types.ApprovalsHashes, from types.PeerID) error {
	if ah.BlockHash != b.BlockHash {
		b.latch.Release()
		b.dishonest[from] = true
		return &reactorerr.PeerDishonest{Peer: from, Evidence: "approvals hashes reference a different block"}
	}
	b.approvalsHashes = &ah
	b.advance()
	return nil
}

// OnBodyFetched accepts a body once bodyConsistent (checked by the
// caller against the header fields that cover it) confirms it belongs to
// this block.
func (b *Builder) OnBodyFetched(body []byte, bodyConsistent bool, from types.PeerID) error {
	if !bodyConsistent {
		b.latch.Release()
		b.dishonest[from] = true
		return &reactorerr.PeerDishonest{Peer: from, Evidence: "body inconsistent with header"}
	}
	b.body = body
	b.advance()
	return nil
}

func (b *Builder) OnExecutionResultsFetched(stateRoot types.Hash) {
	b.executionResult = &stateRoot
	b.advance()
	if b.trie == nil {
		b.trie = newTrieFetcher(stateRoot)
	}
}

// OnGlobalStateNodeFetched feeds one trie node back from a parallel
// fetch; the builder advances past NeedGlobalState once the trie fetcher
// reports the whole trie is resident.
func (b *Builder) OnGlobalStateNodeFetched(nodeHash types.Hash, children []types.Hash) {
	if b.trie == nil {
		return
	}
	b.trie.observe(nodeHash, children)
	if b.trie.done() {
		b.advance()
	}
}

// PendingTrieFetches returns up to limit trie node hashes not yet
// dispatched, for the synchronizer to fan out.
func (b *Builder) PendingTrieFetches(limit int) []types.Hash {
	if b.trie == nil {
		return nil
	}
	return b.trie.pending(limit)
}

// OnFinalitySignatureFetched registers a signature with the accumulator
// supplied by the synchronizer and reports whether the builder has now
// met its finality target.
func (b *Builder) OnFinalitySignatureFetched(
	acc *accumulator.Accumulator,
	sig types.FinalitySignature,
	validators *types.ValidatorSet,
	verified bool,
	from types.PeerID,
) bool {
	acc.RegisterFinalitySignature(sig, validators, verified, from, b.finalityLevel)
	if !verified {
		b.dishonest[from] = true
		return false
	}
	b.validatorSet = validators
	signer := string(sig.PublicKey)
	if !b.seenSigners[signer] {
		b.seenSigners[signer] = true
	}
	threshold := b.finalityLevel.Threshold(validators.TotalWeight)
	if acc.Weight(b.BlockHash) >= threshold {
		b.advance() // NeedFinalitySignatures -> Complete
		return true
	}
	return false
}

// Assembled returns the finished block once the builder has reached
// Complete.
func (b *Builder) Assembled() (*types.Block, bool) {
	if b.tag != Complete || b.header == nil {
		return nil, false
	}
	blk := &types.Block{Header: *b.header, Hash: b.BlockHash, Body: b.body}
	if b.approvalsHashes != nil {
		blk.ApprovalsHashes = *b.approvalsHashes
	}
	return blk, true
}

// DishonestPeers returns the peers this builder has flagged dishonest,
// for the synchronizer's disconnect-dishonest tick to sweep.
func (b *Builder) DishonestPeers() []types.PeerID {
	out := make([]types.PeerID, 0, len(b.dishonest))
	for p := range b.dishonest {
		out = append(out, p)
	}
	return out
}

// PeerSetExhausted reports whether every candidate peer has been
// flagged dishonest, the failure condition (a) of §4.4.
func (b *Builder) PeerSetExhausted() bool {
	if len(b.peers) == 0 {
		return false
	}
	for _, p := range b.peers {
		if !b.dishonest[p] {
			return false
		}
	}
	return true
}

// Cancel transitions the builder to Failed, the failure condition (c) of
// §4.4: the reactor cancelled it.
func (b *Builder) Cancel() { b.fail() }

// Dominates reports whether a candidate at (height, dir) strictly
// dominates this builder's current target, per Register block's
// replace-only-if-dominates rule: higher height for forward, lower height
// for historical.
func (b *Builder) Dominates(height uint64, dir Direction) bool {
	if dir != b.Direction {
		return false
	}
	if dir == Forward {
		return height > b.Height
	}
	return height < b.Height
}

// LastProgress reports when this builder last made acquisition progress,
// for the reactor's idle_tolerance bookkeeping.
func (b *Builder) LastProgress() time.Time { return b.lastProgress }
