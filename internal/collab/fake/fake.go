// Package fake provides in-memory implementations of the internal/collab
// interfaces, for use in tests. None of them is suitable for production:
// Storage never persists past process exit, ContractRuntime never
// executes anything, ConsensusEngine never runs a consensus protocol, and
// Transport only records what it was asked to send.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relaychain/noded/internal/collab"
	"github.com/relaychain/noded/types"
)

// Storage is a map-backed collab.Storage.
type Storage struct {
	mu     sync.Mutex
	blocks map[uint64]*types.Block
	sigs   []*types.FinalitySignature
	// switchBlocks maps era ID to the block that closed it.
	switchBlocks map[uint64]*types.Block
}

func NewStorage() *Storage {
	return &Storage{
		blocks:       make(map[uint64]*types.Block),
		switchBlocks: make(map[uint64]*types.Block),
	}
}

func (s *Storage) PutBlock(_ context.Context, b *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.Header.Height] = &cp
	if b.Header.IsSwitchBlock {
		s.switchBlocks[b.Header.EraID] = &cp
	}
	return nil
}

func (s *Storage) PutFinalitySignature(_ context.Context, sig *types.FinalitySignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sig
	s.sigs = append(s.sigs, &cp)
	return nil
}

func (s *Storage) GetBlockByHeight(_ context.Context, height uint64) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	if !ok {
		return nil, fmt.Errorf("fake storage: no block at height %d", height)
	}
	return b, nil
}

func (s *Storage) GetSwitchBlockOfEra(_ context.Context, eraID uint64) (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.switchBlocks[eraID]
	if !ok {
		return nil, fmt.Errorf("fake storage: no switch block for era %d", eraID)
	}
	return b, nil
}

func (s *Storage) AvailableBlockRange(_ context.Context) (types.BlockRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) == 0 {
		return types.BlockRange{}, nil
	}
	heights := make([]uint64, 0, len(s.blocks))
	for h := range s.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return types.BlockRange{Low: heights[0], High: heights[len(heights)-1]}, nil
}

// ContractRuntime records execution calls without doing any real work.
type ContractRuntime struct {
	mu        sync.Mutex
	Executed  []uint64
	Upgrades  []types.ActivationPoint
	StateRoot types.Hash
}

func NewContractRuntime() *ContractRuntime { return &ContractRuntime{} }

func (c *ContractRuntime) Execute(_ context.Context, b *types.Block, _ types.Hash) (types.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Executed = append(c.Executed, b.Header.Height)
	return c.StateRoot, nil
}

func (c *ContractRuntime) CommitUpgrade(_ context.Context, activation types.ActivationPoint) (types.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Upgrades = append(c.Upgrades, activation)
	return c.StateRoot, nil
}

// ConsensusEngine records finalized blocks and answers era-membership
// queries from a fixed, test-supplied era boundary table.
type ConsensusEngine struct {
	mu             sync.Mutex
	Finalized      []*types.Block
	Proposed       []*types.Block
	eraBoundaries  []uint64 // eraBoundaries[i] is the first height of era i

	// ProposalTimeoutInertia models the original node's adaptive round
	// timeout: it doubles after this many consecutive slow rounds, and
	// only halves after strictly more than this many consecutive fast
	// rounds, so it rises faster than it falls.
	ProposalTimeoutInertia int

	streak int // positive: consecutive slow rounds; negative: consecutive fast rounds
	timeoutMs int64
}

func NewConsensusEngine(eraBoundaries []uint64, initialTimeoutMs int64, inertia int) *ConsensusEngine {
	return &ConsensusEngine{
		eraBoundaries:          eraBoundaries,
		ProposalTimeoutInertia: inertia,
		timeoutMs:              initialTimeoutMs,
	}
}

func (c *ConsensusEngine) DeliverFinalized(_ context.Context, b *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Finalized = append(c.Finalized, b)
}

func (c *ConsensusEngine) ProposedBlock(_ context.Context, b *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proposed = append(c.Proposed, b)
	return nil
}

func (c *ConsensusEngine) EraOf(height uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.eraBoundaries) - 1; i >= 0; i-- {
		if height >= c.eraBoundaries[i] {
			return uint64(i), true
		}
	}
	return 0, false
}

// ObserveRound feeds a round outcome into the adaptive timeout. slow
// reports whether the round ran past the current timeout.
func (c *ConsensusEngine) ObserveRound(slow bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slow {
		if c.streak < 0 {
			c.streak = 0
		}
		c.streak++
		if c.streak >= c.ProposalTimeoutInertia {
			c.timeoutMs *= 2
			c.streak = 0
		}
	} else {
		if c.streak > 0 {
			c.streak = 0
		}
		c.streak--
		if -c.streak > c.ProposalTimeoutInertia {
			c.timeoutMs /= 2
			if c.timeoutMs < 1 {
				c.timeoutMs = 1
			}
			c.streak = 0
		}
	}
	return c.timeoutMs
}

// Transport records every send/broadcast/disconnect it is asked to make.
type Transport struct {
	mu           sync.Mutex
	Sent         []SentMessage
	Broadcasts   []SentMessage
	Disconnected []types.PeerID
}

type SentMessage struct {
	To       types.PeerID
	Category collab.MessageCategory
	Msg      any
}

func NewTransport() *Transport { return &Transport{} }

func (t *Transport) Send(_ context.Context, to types.PeerID, cat collab.MessageCategory, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Sent = append(t.Sent, SentMessage{To: to, Category: cat, Msg: msg})
	return nil
}

func (t *Transport) Broadcast(_ context.Context, cat collab.MessageCategory, msg any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Broadcasts = append(t.Broadcasts, SentMessage{Category: cat, Msg: msg})
	return nil
}

func (t *Transport) Disconnect(_ context.Context, peer types.PeerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Disconnected = append(t.Disconnected, peer)
	return nil
}

var (
	_ collab.Storage         = (*Storage)(nil)
	_ collab.ContractRuntime = (*ContractRuntime)(nil)
	_ collab.ConsensusEngine = (*ConsensusEngine)(nil)
	_ collab.Transport       = (*Transport)(nil)
)
