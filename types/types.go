// Package types holds the data model shared by every component of the
// reactor core: blocks, hashes, peer identities, finality signatures, and
// the small value types used to describe sync progress and protocol
// versioning. Nothing here touches wire encoding or cryptography — those
// are the job of the Transport and ConsensusEngine collaborators.
package types

import (
	"encoding/hex"
	"fmt"
)

// Hash is an opaque, fixed-size content hash. Verification of a Hash
// against its preimage is delegated to a collaborator; this package only
// moves the bytes around.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

// PeerID identifies a peer on the gossip network. The core never dials or
// authenticates peers itself; it only ever receives a PeerID handed to it
// by the Transport collaborator.
type PeerID string

// PublicKey and Signature are opaque byte strings. Their validity is never
// checked in this package — that is ConsensusEngine's job.
type PublicKey []byte
type Signature []byte

// ProtocolVersion is a semantic triple governing wire compatibility.
type ProtocolVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Before reports whether v predates other.
func (v ProtocolVersion) Before(other ProtocolVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// Header is the part of a Block needed to establish its place in the
// chain and to validate finality signatures against it without holding
// the full body.
type Header struct {
	ParentHash    Hash
	Height        uint64
	EraID         uint64
	Timestamp     int64
	ProtocolVer   ProtocolVersion
	IsSwitchBlock bool
	StateRootHash Hash
	AccumulatedSeed Hash
}

// ApprovalsHashes is the set of hashes covering the deploy/transaction
// approvals for a block, fetched as a distinct artifact from the body.
type ApprovalsHashes struct {
	BlockHash Hash
	Hashes    []Hash
}

// Block is the full artifact the synchronizer assembles piece by piece:
// header, body (opaque to this package), approvals hashes, and the global
// state trie root referenced by the header.
type Block struct {
	Header          Header
	Hash            Hash
	Body            []byte
	ApprovalsHashes ApprovalsHashes
}

// FinalitySignature attests that a single validator finalized the block
// identified by BlockHash in EraID.
type FinalitySignature struct {
	BlockHash Hash
	EraID     uint64
	PublicKey PublicKey
	Signature Signature
}

// ValidatorWeight pairs a validator's public key with its relative weight
// within a ValidatorSet.
type ValidatorWeight struct {
	PublicKey PublicKey
	Weight    uint64
}

// ValidatorSet is the weighted set of validators active in an era, used to
// compute finality-signature weight thresholds.
type ValidatorSet struct {
	EraID      uint64
	Validators []ValidatorWeight
	TotalWeight uint64
}

// WeightOf returns the weight of pk within the set, or 0 if pk is absent.
func (vs ValidatorSet) WeightOf(pk PublicKey) uint64 {
	for _, v := range vs.Validators {
		if string(v.PublicKey) == string(pk) {
			return v.Weight
		}
	}
	return 0
}

// BlockRange describes a contiguous, locally available span of block
// heights, as reported by Storage.AvailableBlockRange.
type BlockRange struct {
	Low  uint64
	High uint64
}

func (r BlockRange) Contains(height uint64) bool {
	return r.Low <= height && height <= r.High
}

func (r BlockRange) Len() uint64 {
	if r.High < r.Low {
		return 0
	}
	return r.High - r.Low + 1
}

// ActivationPoint names the era at which a protocol upgrade takes effect.
type ActivationPoint struct {
	EraID uint64
}
