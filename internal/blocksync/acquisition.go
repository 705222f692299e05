package blocksync

import (
	"github.com/relaychain/noded/types"
)

// Direction distinguishes a forward builder (targeting blocks above the
// local tip) from a historical one (targeting blocks below local low).
type Direction int

const (
	Forward Direction = iota
	Historical
)

// AcquisitionTag names a single state in the fixed acquisition order.
// Representing it as a flat tagged variant with an explicit transition
// function (rather than a class hierarchy) makes completion provable by
// exhaustion: Next always returns either the following tag or a
// terminal.
type AcquisitionTag int

const (
	NeedHeader AcquisitionTag = iota
	NeedApprovalsHashes
	NeedBody
	NeedExecutionResults // historical only
	NeedGlobalState      // historical only
	NeedFinalitySignatures
	Complete
	Failed
)

func (t AcquisitionTag) String() string {
	switch t {
	case NeedHeader:
		return "need_header"
	case NeedApprovalsHashes:
		return "need_approvals_hashes"
	case NeedBody:
		return "need_body"
	case NeedExecutionResults:
		return "need_execution_results"
	case NeedGlobalState:
		return "need_global_state"
	case NeedFinalitySignatures:
		return "need_finality_signatures"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Next returns the acquisition tag that follows t for a builder of the
// given direction. Forward builders skip NeedExecutionResults and
// NeedGlobalState entirely — execution of a forward block is the contract
// runtime's job, not the builder's.
func Next(t AcquisitionTag, dir Direction) AcquisitionTag {
	switch t {
	case NeedHeader:
		return NeedApprovalsHashes
	case NeedApprovalsHashes:
		return NeedBody
	case NeedBody:
		if dir == Historical {
			return NeedExecutionResults
		}
		return NeedFinalitySignatures
	case NeedExecutionResults:
		return NeedGlobalState
	case NeedGlobalState:
		return NeedFinalitySignatures
	case NeedFinalitySignatures:
		return Complete
	default:
		return t
	}
}

// NeedNext is the descriptor a builder publishes at each state: what
// artifact to fetch, for which block. The synchronizer reads this and
// decides how to dispatch it (a single fetcher request for most tags, a
// fan-out of up to max_parallel_trie_fetches for NeedGlobalState).
type NeedNext struct {
	Tag       AcquisitionTag
	BlockHash types.Hash
	Height    uint64
	// StateRootHash is populated only when Tag == NeedGlobalState.
	StateRootHash types.Hash
}
