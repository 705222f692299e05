// Package collab defines the boundary interfaces the reactor core consumes
// from the rest of the node. None of them is implemented concretely here:
// storage, contract execution, consensus, and transport are all the
// responsibility of other subsystems. The fake subpackage provides
// in-memory stand-ins for tests.
package collab

import (
	"context"

	"github.com/relaychain/noded/types"
)

// MessageCategory tags a Transport message by gossip class, so a peer's
// throttle accounting and a message's priority can be decided without the
// core unmarshaling the payload.
type MessageCategory int

const (
	CategoryBlockRequest MessageCategory = iota
	CategoryBlockResponse
	CategoryFinalitySignature
	CategoryTrieRequest
	CategoryTrieResponse
	CategorySyncLeapRequest
	CategorySyncLeapResponse
	CategoryTransactionGossip
)

// Storage is the persistence boundary: everything the core needs to read
// back what has already been durably committed, and to hand newly
// assembled artifacts off for durable storage.
type Storage interface {
	PutBlock(ctx context.Context, b *types.Block) error
	PutFinalitySignature(ctx context.Context, sig *types.FinalitySignature) error
	GetBlockByHeight(ctx context.Context, height uint64) (*types.Block, error)
	GetSwitchBlockOfEra(ctx context.Context, eraID uint64) (*types.Block, error)
	AvailableBlockRange(ctx context.Context) (types.BlockRange, error)
}

// ContractRuntime is the execution boundary: applying a block's
// transactions against global state, and committing a protocol upgrade.
type ContractRuntime interface {
	Execute(ctx context.Context, b *types.Block, preStateRoot types.Hash) (types.Hash, error)
	CommitUpgrade(ctx context.Context, activation types.ActivationPoint) (types.Hash, error)
}

// ConsensusEngine is the consensus boundary: handing finalized blocks off
// to the active protocol (Zug or Highway), accepting proposals, and
// answering era-membership questions the reactor needs for its
// validator-status gate.
type ConsensusEngine interface {
	DeliverFinalized(ctx context.Context, b *types.Block)
	ProposedBlock(ctx context.Context, b *types.Block) error
	EraOf(height uint64) (eraID uint64, ok bool)
}

// Transport is the gossip boundary: sending and broadcasting messages by
// category, and forcibly disconnecting a peer the peer book has flagged.
type Transport interface {
	Send(ctx context.Context, to types.PeerID, category MessageCategory, msg any) error
	Broadcast(ctx context.Context, category MessageCategory, msg any) error
	Disconnect(ctx context.Context, peer types.PeerID) error
}
