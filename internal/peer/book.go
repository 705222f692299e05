// Package peer implements the peer book: a process-wide structure owned
// by the reactor and mutated only from its event loop. Worker tasks (the
// builders) only ever see an immutable snapshot handed to them for one
// batch of fetches — they never mutate the book directly.
package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/mroth/weightedrand"
	"golang.org/x/time/rate"

	"github.com/relaychain/noded/libs/rand"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

// reliabilityDecay is the exponential-decay factor applied to a peer's
// reliability score on every Observe call:
// score = score*decay + sample*(1-decay).
const reliabilityDecay = 0.9

// Info is a peer's externally visible state as tracked by the book.
type Info struct {
	ID              types.PeerID
	ProtocolVersion version.Protocol
	IsValidator     bool
	Reliability     float64 // higher is better, decays toward new observations
	Dishonest       bool
}

// blocklistEntry is a node in the expiry-ordered B-tree used to sweep
// expired blocklist entries without a full map scan.
type blocklistEntry struct {
	expiresAt time.Time
	peer      types.PeerID
}

func (e blocklistEntry) Less(other btree.Item) bool {
	o := other.(blocklistEntry)
	if e.expiresAt.Equal(o.expiresAt) {
		return e.peer < o.peer
	}
	return e.expiresAt.Before(o.expiresAt)
}

// Config bundles the book's tunables, all named directly in the config
// package's P2PConfig.
type Config struct {
	BlocklistRetainMinDuration time.Duration
	BlocklistRetainMaxDuration time.Duration
	TarpitVersionThreshold     version.Protocol
	TarpitChance               float64
	TarpitDuration             time.Duration
	MaxOutgoingByteRateNonValidators   float64 // bytes/sec
	MaxIncomingMessageRateNonValidators float64 // msgs/sec
}

// Book is the peer book described in §4.5: membership, blocklist,
// dishonest-peer flags, and weighted selection for fetch dispatch.
type Book struct {
	cfg Config

	mu        sync.Mutex
	peers     map[types.PeerID]*Info
	blocklist *btree.BTree // of blocklistEntry, ordered by expiry
	blocked   map[types.PeerID]time.Time

	limiters map[types.PeerID]*rate.Limiter // outgoing byte-rate, non-validators only
	incoming map[types.PeerID]*rate.Limiter // incoming message-rate, non-validators only
}

func NewBook(cfg Config) *Book {
	return &Book{
		cfg:       cfg,
		peers:     make(map[types.PeerID]*Info),
		blocklist: btree.New(32),
		blocked:   make(map[types.PeerID]time.Time),
		limiters:  make(map[types.PeerID]*rate.Limiter),
		incoming:  make(map[types.PeerID]*rate.Limiter),
	}
}

// Add registers a newly connected peer.
func (b *Book) Add(id types.PeerID, protocolVersion version.Protocol, isValidator bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[id] = &Info{ID: id, ProtocolVersion: protocolVersion, IsValidator: isValidator, Reliability: 0.5}
	if !isValidator {
		b.limiters[id] = rate.NewLimiter(rate.Limit(b.cfg.MaxOutgoingByteRateNonValidators), int(b.cfg.MaxOutgoingByteRateNonValidators))
		b.incoming[id] = rate.NewLimiter(rate.Limit(b.cfg.MaxIncomingMessageRateNonValidators), int(b.cfg.MaxIncomingMessageRateNonValidators))
	}
}

// Remove drops a disconnected peer entirely.
func (b *Book) Remove(id types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, id)
	delete(b.limiters, id)
	delete(b.incoming, id)
}

// Observe records a fetch outcome against id's reliability score. success
// contributes 1.0, failure contributes 0.0, decayed exponentially against
// the running score so recent behavior dominates.
func (b *Book) Observe(id types.PeerID, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.peers[id]
	if !ok {
		return
	}
	sample := 0.0
	if success {
		sample = 1.0
	}
	info.Reliability = info.Reliability*reliabilityDecay + sample*(1-reliabilityDecay)
}

// FlagDishonest immediately blocklists and marks id dishonest. Per §7,
// PeerDishonest causes an immediate blocklist, independent of the normal
// randomized-duration blocklist applied to recoverable fetch failures.
func (b *Book) FlagDishonest(id types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.peers[id]; ok {
		info.Dishonest = true
	}
	b.blocklistLocked(id, b.cfg.BlocklistRetainMaxDuration)
}

// Blocklist places id on the blocklist for a randomized duration between
// BlocklistRetainMinDuration and BlocklistRetainMaxDuration, satisfying
// invariant 4: a peer placed on the blocklist at time t is not used for
// any fetch before t + BlocklistRetainMinDuration.
func (b *Book) Blocklist(id types.PeerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	span := b.cfg.BlocklistRetainMaxDuration - b.cfg.BlocklistRetainMinDuration
	jitter := time.Duration(0)
	if span > 0 {
		jitter = time.Duration(rand.NewRand().Int63n(int64(span)))
	}
	b.blocklistLocked(id, b.cfg.BlocklistRetainMinDuration+jitter)
}

func (b *Book) blocklistLocked(id types.PeerID, duration time.Duration) {
	expiresAt := time.Now().Add(duration)
	b.blocked[id] = expiresAt
	b.blocklist.ReplaceOrInsert(blocklistEntry{expiresAt: expiresAt, peer: id})
}

// SweepExpired removes blocklist entries whose expiry has passed, walking
// the B-tree in expiry order so the sweep stops at the first entry still
// in the future.
func (b *Book) SweepExpired(now time.Time) []types.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []types.PeerID
	var toDelete []btree.Item
	b.blocklist.Ascend(func(item btree.Item) bool {
		e := item.(blocklistEntry)
		if e.expiresAt.After(now) {
			return false
		}
		expired = append(expired, e.peer)
		toDelete = append(toDelete, item)
		return true
	})
	for _, item := range toDelete {
		b.blocklist.Delete(item)
		e := item.(blocklistEntry)
		delete(b.blocked, e.peer)
	}
	return expired
}

// IsBlocked reports whether id is currently on the blocklist.
func (b *Book) IsBlocked(id types.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	expiresAt, ok := b.blocked[id]
	if !ok {
		return false
	}
	return time.Now().Before(expiresAt)
}

// ShouldTarpit decides whether a peer speaking an old protocol version
// should be tarpitted — held open for the returned TarpitDuration before
// being closed, rather than rejected at once — as a probabilistic defense
// against fast reconnection storms from stale clients. Peers above
// TarpitVersionThreshold are never tarpitted; peers at or below it are
// tarpitted with probability TarpitChance.
func (b *Book) ShouldTarpit(protocolVersion version.Protocol) (bool, time.Duration) {
	if protocolVersion > b.cfg.TarpitVersionThreshold {
		return false, 0
	}
	if rand.NewRand().Float64() < b.cfg.TarpitChance {
		return true, b.cfg.TarpitDuration
	}
	return false, 0
}

// AllowOutgoingBytes reports whether n more bytes may be sent to a
// non-validator peer without exceeding MaxOutgoingByteRateNonValidators.
// Validators are never throttled.
func (b *Book) AllowOutgoingBytes(id types.PeerID, n int) bool {
	b.mu.Lock()
	limiter, ok := b.limiters[id]
	b.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.AllowN(time.Now(), n)
}

// AllowIncomingMessage reports whether one more message may be accepted
// from a non-validator peer without exceeding
// MaxIncomingMessageRateNonValidators.
func (b *Book) AllowIncomingMessage(id types.PeerID) bool {
	b.mu.Lock()
	limiter, ok := b.incoming[id]
	b.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// QueryOpts restricts a Query call. ValidatorsOnly, when set, excludes
// non-validator peers — the book only knows a peer's current validator
// status, not era membership, so restricting a query to validators "of a
// named era" additionally requires the caller to cross-check against
// collab.ConsensusEngine.EraOf for peers returned here.
type QueryOpts struct {
	Limit         int
	ValidatorsOnly bool
}

// Query returns a weighted-random, shuffled snapshot of up to opts.Limit
// currently usable peers (not blocked, not dishonest), weighted by
// reliability so flaky peers are picked less often. The peer list is
// shuffled before weighting is applied so that two builders querying in
// the same control tick do not receive identical orderings.
func (b *Book) Query(opts QueryOpts) []types.PeerID {
	n := opts.Limit
	b.mu.Lock()
	var candidates []types.PeerID
	weights := make(map[types.PeerID]float64)
	for id, info := range b.peers {
		if info.Dishonest {
			continue
		}
		if opts.ValidatorsOnly && !info.IsValidator {
			continue
		}
		if expiresAt, blocked := b.blocked[id]; blocked && time.Now().Before(expiresAt) {
			continue
		}
		candidates = append(candidates, id)
		weights[id] = info.Reliability + 0.01 // avoid a zero-weight peer being unpickable forever
	}
	b.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}

	rnd := rand.NewRand()
	rnd.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	if n <= 0 || n >= len(candidates) {
		n = len(candidates)
	}

	choices := make([]weightedrand.Choice, len(candidates))
	for i, id := range candidates {
		choices[i] = weightedrand.Choice{Item: id, Weight: uint(weights[id] * 1000)}
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		// All-zero weights: fall back to a deterministic ordering rather
		// than the weighted chooser, which refuses to build on an
		// all-zero weight set.
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
		if n > len(candidates) {
			n = len(candidates)
		}
		return candidates[:n]
	}

	seen := make(map[types.PeerID]bool, n)
	result := make([]types.PeerID, 0, n)
	for len(result) < n && len(result) < len(candidates) {
		pick := chooser.Pick().(types.PeerID)
		if !seen[pick] {
			seen[pick] = true
			result = append(result, pick)
		}
	}
	return result
}

// Get returns a copy of what the book knows about id, if anything.
func (b *Book) Get(id types.PeerID) (Info, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.peers[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}
