package blocksync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/collab"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/internal/reactorerr"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

// Config bundles the synchronizer's tunables, named directly in the
// config package's SyncConfig.
type Config struct {
	NeedNextInterval                time.Duration
	PeerRefreshInterval              time.Duration
	DisconnectDishonestPeersInterval time.Duration
	LatchResetInterval               time.Duration
	GetFromPeerTimeout               time.Duration
	MaxParallelTrieFetches           int
	MaxAttempts                      int
}

// Synchronizer owns zero to two builders — at most one forward, at most
// one historical — and drives them on independent ticks, per §4.4.
type Synchronizer struct {
	cfg Config

	logger    log.Logger
	book      *peer.Book
	transport collab.Transport
	storage   collab.Storage
	finality  *accumulator.Accumulator

	forward    *Builder
	historical *Builder
}

// ProgressReport is what the synchronizer hands back to the reactor on
// every need-next tick: assembled blocks ready for storage, and builders
// that have failed and need a reactor decision (retry or escalate).
type ProgressReport struct {
	Completed []*types.Block
	Failed    []Direction
}

func New(cfg Config, logger log.Logger, book *peer.Book, transport collab.Transport, storage collab.Storage, finality *accumulator.Accumulator) *Synchronizer {
	return &Synchronizer{
		cfg:       cfg,
		logger:    logger.With("module", "blocksync"),
		book:      book,
		transport: transport,
		storage:   storage,
		finality:  finality,
	}
}

// RegisterBlock spawns a builder for direction if none exists, or
// replaces the existing one only if the candidate strictly dominates it.
func (s *Synchronizer) RegisterBlock(blockHash types.Hash, height uint64, dir Direction, protocolVersion version.Protocol) {
	existing := s.builderFor(dir)
	if existing != nil {
		if !existing.Dominates(height, dir) {
			return
		}
	}
	builder := NewBuilder(dir, blockHash, height, protocolVersion, s.cfg.MaxAttempts)
	s.setBuilder(dir, builder)
}

// BuilderByHash returns whichever builder — forward or historical — is
// currently targeting blockHash, so a dispatcher can route a fetch
// response without itself knowing which direction issued the request.
func (s *Synchronizer) BuilderByHash(blockHash types.Hash) (*Builder, bool) {
	if s.forward != nil && s.forward.BlockHash == blockHash {
		return s.forward, true
	}
	if s.historical != nil && s.historical.BlockHash == blockHash {
		return s.historical, true
	}
	return nil, false
}

func (s *Synchronizer) builderFor(dir Direction) *Builder {
	if dir == Forward {
		return s.forward
	}
	return s.historical
}

func (s *Synchronizer) setBuilder(dir Direction, b *Builder) {
	if dir == Forward {
		s.forward = b
	} else {
		s.historical = b
	}
}

// NeedNextTick polls each unlatched builder and dispatches its need-next,
// per the need_next_interval tick of §4.4. It returns a ProgressReport
// describing any builder that completed or failed on this tick.
func (s *Synchronizer) NeedNextTick(ctx context.Context) ProgressReport {
	var report ProgressReport
	for _, dir := range []Direction{Forward, Historical} {
		b := s.builderFor(dir)
		if b == nil {
			continue
		}
		s.driveBuilder(ctx, b)
		switch b.Tag() {
		case Complete:
			if blk, ok := b.Assembled(); ok {
				if err := s.storage.PutBlock(ctx, blk); err != nil {
					s.logger.Error("failed to store assembled block", "err", err, "height", blk.Header.Height)
					continue
				}
				report.Completed = append(report.Completed, blk)
			}
			s.setBuilder(dir, nil)
		case Failed:
			report.Failed = append(report.Failed, dir)
			s.setBuilder(dir, nil)
		}
	}
	return report
}

func (s *Synchronizer) driveBuilder(ctx context.Context, b *Builder) {
	if b.PeerSetExhausted() {
		b.Cancel()
		return
	}

	nn, ok := b.NeedNextPoll(time.Now(), s.cfg.LatchResetInterval)
	if !ok {
		return
	}

	if nn.Tag == NeedGlobalState {
		s.dispatchTrieFetch(ctx, b)
		return
	}

	peers := s.book.Query(peer.QueryOpts{Limit: 1})
	if len(peers) == 0 {
		return
	}
	target := peers[0]
	b.Dispatch(time.Now())

	fctx, cancel := context.WithTimeout(ctx, s.cfg.GetFromPeerTimeout)
	defer cancel()

	switch nn.Tag {
	case NeedHeader:
		s.dispatchFetch(fctx, b, target, collab.CategoryBlockRequest, nn)
	case NeedApprovalsHashes, NeedBody, NeedExecutionResults:
		s.dispatchFetch(fctx, b, target, collab.CategoryBlockRequest, nn)
	case NeedFinalitySignatures:
		s.dispatchFetch(fctx, b, target, collab.CategoryFinalitySignature, nn)
	}
}

// dispatchFetch sends a single fetch request. The actual response is fed
// back asynchronously through the builder's On* methods as gossip/fetch
// responses arrive via the control bus — this call only performs the
// send half and records a failure if the send itself cannot be made.
func (s *Synchronizer) dispatchFetch(ctx context.Context, b *Builder, target types.PeerID, category collab.MessageCategory, nn NeedNext) {
	if err := s.transport.Send(ctx, target, category, nn); err != nil {
		b.OnFetchFailed(&reactorerr.FetchFailed{Peer: target, Reason: reactorerr.FetchReasonPeerUnreachable})
		s.book.Observe(target, false)
	}
}

// dispatchTrieFetch fans out up to MaxParallelTrieFetches trie-node
// requests using an errgroup, bounding concurrency and propagating the
// first error; per-node responses still arrive asynchronously and are
// fed back via Builder.OnGlobalStateNodeFetched. Each node's target is an
// independent weighted draw from the peer book, so a node's target is not
// just an arbitrary round-robin slot but reliability-weighted like every
// other fetch this synchronizer dispatches.
func (s *Synchronizer) dispatchTrieFetch(ctx context.Context, b *Builder) {
	hashes := b.PendingTrieFetches(s.cfg.MaxParallelTrieFetches)
	if len(hashes) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallelTrieFetches)
	for _, h := range hashes {
		h := h
		drawn := s.book.Query(peer.QueryOpts{Limit: 1})
		if len(drawn) == 0 {
			continue
		}
		target := drawn[0]
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, s.cfg.GetFromPeerTimeout)
			defer cancel()
			return s.transport.Send(fctx, target, collab.CategoryTrieRequest, h)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("trie fetch fan-out failed", "err", err)
	}
}

// PeerRefreshTick refreshes the peer set snapshot handed to each builder
// from the current peer book, per the peer_refresh_interval tick.
func (s *Synchronizer) PeerRefreshTick() {
	snapshot := s.book.Query(peer.QueryOpts{})
	for _, dir := range []Direction{Forward, Historical} {
		if b := s.builderFor(dir); b != nil {
			b.SetPeers(snapshot)
		}
	}
}

// DisconnectDishonestTick sweeps builders for peers flagged dishonest and
// issues disconnect + blocklist against them, per the
// disconnect_dishonest_peers_interval tick.
func (s *Synchronizer) DisconnectDishonestTick(ctx context.Context) {
	seen := make(map[types.PeerID]bool)
	for _, dir := range []Direction{Forward, Historical} {
		b := s.builderFor(dir)
		if b == nil {
			continue
		}
		for _, p := range b.DishonestPeers() {
			if seen[p] {
				continue
			}
			seen[p] = true
			s.book.FlagDishonest(p)
			if err := s.transport.Disconnect(ctx, p); err != nil {
				s.logger.Error("failed to disconnect dishonest peer", "peer", p, "err", err)
			}
		}
	}
}

// LatchResetTick clears stuck latches in all builders.
func (s *Synchronizer) LatchResetTick() {
	for _, dir := range []Direction{Forward, Historical} {
		if b := s.builderFor(dir); b != nil {
			b.ResetLatch()
		}
	}
}

// Run drives the four ticks of §4.4 — need-next, peer-refresh,
// disconnect-dishonest, and latch-reset — on their configured intervals,
// until ctx is done. onProgress, if non-nil, is called once per
// need-next tick that completed at least one builder, so the reactor's
// idle-tolerance staleness check sees real forward motion.
func (s *Synchronizer) Run(ctx context.Context, onProgress func()) {
	needNext := time.NewTicker(s.cfg.NeedNextInterval)
	peerRefresh := time.NewTicker(s.cfg.PeerRefreshInterval)
	disconnect := time.NewTicker(s.cfg.DisconnectDishonestPeersInterval)
	latchReset := time.NewTicker(s.cfg.LatchResetInterval)
	defer needNext.Stop()
	defer peerRefresh.Stop()
	defer disconnect.Stop()
	defer latchReset.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-needNext.C:
			report := s.NeedNextTick(ctx)
			if len(report.Completed) > 0 && onProgress != nil {
				onProgress()
			}
			for _, dir := range report.Failed {
				s.logger.Error("builder failed", "direction", dir)
			}
		case <-peerRefresh.C:
			s.PeerRefreshTick()
		case <-disconnect.C:
			s.DisconnectDishonestTick(ctx)
		case <-latchReset.C:
			s.LatchResetTick()
		}
	}
}

// Cancel cancels the builder for dir, if any — failure condition (c) of
// §4.4.
func (s *Synchronizer) Cancel(dir Direction) {
	if b := s.builderFor(dir); b != nil {
		b.Cancel()
	}
}

// HasBuilder reports whether a builder exists for dir.
func (s *Synchronizer) HasBuilder(dir Direction) bool {
	return s.builderFor(dir) != nil
}
