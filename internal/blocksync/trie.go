package blocksync

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relaychain/noded/types"
)

// trieDedupCacheSize bounds how many resident trie-node hashes a single
// historical builder remembers, so the recursive trie fetch does not grow
// memory unboundedly on a very large global-state trie.
const trieDedupCacheSize = 65536

// trieFetcher drives the recursive, deduplicated fetch of a historical
// block's global-state trie rooted at root. Nodes already known resident
// (fetched, or discovered as a child of a fetched node) are never
// dispatched twice.
type trieFetcher struct {
	root     types.Hash
	resident *lru.Cache[types.Hash, bool]
	frontier []types.Hash // hashes known to exist but not yet fetched
	inFlight map[types.Hash]bool
}

func newTrieFetcher(root types.Hash) *trieFetcher {
	cache, _ := lru.New[types.Hash, bool](trieDedupCacheSize)
	return &trieFetcher{
		root:     root,
		resident: cache,
		frontier: []types.Hash{root},
		inFlight: make(map[types.Hash]bool),
	}
}

// pending returns up to limit frontier hashes not already in flight,
// marking them in flight as they are returned so a second call before
// they resolve will not return them again.
func (t *trieFetcher) pending(limit int) []types.Hash {
	var out []types.Hash
	var remaining []types.Hash
	for _, h := range t.frontier {
		if len(out) >= limit {
			remaining = append(remaining, h)
			continue
		}
		if t.inFlight[h] {
			remaining = append(remaining, h)
			continue
		}
		t.inFlight[h] = true
		out = append(out, h)
	}
	t.frontier = remaining
	return out
}

// observe records that nodeHash has been fetched and enqueues any
// children not already resident or already queued.
func (t *trieFetcher) observe(nodeHash types.Hash, children []types.Hash) {
	delete(t.inFlight, nodeHash)
	if _, known := t.resident.Get(nodeHash); known {
		return
	}
	t.resident.Add(nodeHash, true)
	for _, c := range children {
		if _, known := t.resident.Get(c); known || t.inFlight[c] {
			continue
		}
		queued := false
		for _, f := range t.frontier {
			if f == c {
				queued = true
				break
			}
		}
		if queued {
			continue
		}
		t.frontier = append(t.frontier, c)
	}
}

// done reports whether the trie fetch has no more work outstanding: no
// frontier nodes left to fetch, and nothing currently in flight.
func (t *trieFetcher) done() bool {
	return len(t.frontier) == 0 && len(t.inFlight) == 0
}
