// Package catchup implements the sync-leap operation used by CatchUp: a
// single request for a compressed slice of recent headers and switch
// blocks, answered from one trusted peer, that lets a joining node locate
// the true tip without replaying the whole chain.
package catchup

import (
	"context"
	"sync"
	"time"

	"github.com/relaychain/noded/internal/collab"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

// Leap is the evidence package a sync-leap response carries: enough
// headers and switch blocks for the requester to independently verify a
// trusted tip starting from TrustedHash.
type Leap struct {
	TrustedHash     types.Hash
	Headers         []types.Header
	SwitchBlocks    []types.Block
	TipHash         types.Hash
	TipHeight       uint64
	ProtocolVersion version.Protocol
}

type cacheEntry struct {
	leap      Leap
	cachedAt  time.Time
}

// LeapCache caches the most recent sync-leap result keyed by trusted hash
// for a short TTL, so a CatchUp retry after a transient peer failure does
// not immediately re-issue an identical sync-leap request.
type LeapCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[types.Hash]cacheEntry
	now     func() time.Time
}

func NewLeapCache(ttl time.Duration) *LeapCache {
	return &LeapCache{
		ttl:     ttl,
		entries: make(map[types.Hash]cacheEntry),
		now:     time.Now,
	}
}

// Get returns a cached leap for trustedHash if one was stored within ttl,
// and reports whether it found one.
func (c *LeapCache) Get(trustedHash types.Hash) (Leap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[trustedHash]
	if !ok {
		return Leap{}, false
	}
	if c.now().Sub(entry.cachedAt) > c.ttl {
		delete(c.entries, trustedHash)
		return Leap{}, false
	}
	return entry.leap, true
}

// Put stores a freshly received leap.
func (c *LeapCache) Put(leap Leap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[leap.TrustedHash] = cacheEntry{leap: leap, cachedAt: c.now()}
}

// Evict removes any cached entry for trustedHash, used when a leap turns
// out to have come from a now-dishonest peer.
func (c *LeapCache) Evict(trustedHash types.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, trustedHash)
}

// Requester issues the sync-leap request CatchUp needs to find a trusted
// tip, and folds the eventual response (delivered asynchronously, like
// every other fetch in this core) back into the cache and the
// synchronizer's forward target.
type Requester struct {
	transport collab.Transport
	cache     *LeapCache
}

func NewRequester(transport collab.Transport, cache *LeapCache) *Requester {
	return &Requester{transport: transport, cache: cache}
}

// Request sends a sync-leap request for trustedHash to to, unless a
// still-fresh result is already cached.
func (r *Requester) Request(ctx context.Context, trustedHash types.Hash, to types.PeerID) error {
	if _, ok := r.cache.Get(trustedHash); ok {
		return nil
	}
	return r.transport.Send(ctx, to, collab.CategorySyncLeapRequest, trustedHash)
}

// Deliver stores a received leap and reports the forward target the
// synchronizer should register: the newly discovered tip, not the
// pre-existing trust anchor the request was seeded with.
func (r *Requester) Deliver(leap Leap) (blockHash types.Hash, height uint64, protocolVersion version.Protocol) {
	r.cache.Put(leap)
	return leap.TipHash, leap.TipHeight, leap.ProtocolVersion
}
