// Package dispatch subscribes to the control bus and turns its events
// into the builder, accumulator, and peer-book calls they were always
// meant to drive. Nothing in this repository produces these events —
// that is the job of whatever concrete Transport and peer-handshake
// implementation embeds this reactor core — but everything downstream of
// "an event arrived" lives here, so an embedder only has to Publish.
package dispatch

import (
	"context"
	"errors"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/blocksync"
	"github.com/relaychain/noded/internal/bus"
	"github.com/relaychain/noded/internal/catchup"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/internal/reactorerr"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

// FetchResponse is the payload of a bus.KindFetchComplete event carrying
// a successful response: exactly one of its pointer/slice fields is set,
// matching whichever NeedNext the request satisfied.
type FetchResponse struct {
	BlockHash types.Hash
	From      types.PeerID

	Header          *types.Header
	ComputedHash    types.Hash
	ApprovalsHashes *types.ApprovalsHashes
	Body            []byte
	BodyConsistent  bool
	ExecutionRoot   *types.Hash
	TrieNodeHash    *types.Hash
	TrieChildren    []types.Hash
}

// FetchFailure is the payload of a bus.KindFetchComplete event reporting
// that a dispatched request could not be satisfied.
type FetchFailure struct {
	BlockHash types.Hash
	Err       *reactorerr.FetchFailed
}

// GossipArrival is the payload of a bus.KindGossipArrival event: an
// unsolicited block announcement.
type GossipArrival struct {
	BlockHash  types.Hash
	Height     uint64
	HaveHeight bool
	From       types.PeerID
}

// FinalitySignatureArrival is the payload of a bus.KindFinalitySignature
// event. Validators and Verified are resolved by the consensus
// collaborator before publication — the core never verifies a signature
// itself.
type FinalitySignatureArrival struct {
	Signature  types.FinalitySignature
	Validators *types.ValidatorSet
	Verified   bool
	From       types.PeerID
}

// SyncLeapArrival is the payload of a bus.KindFetchComplete event
// answering a catchup.Requester.Request call.
type SyncLeapArrival struct {
	Leap catchup.Leap
}

// PeerNotice is the payload of a bus.KindPeerUp/KindPeerDown event.
type PeerNotice struct {
	Peer            types.PeerID
	ProtocolVersion version.Protocol
	IsValidator     bool
}

// Dispatcher is the subscriber loop described in §5: "the response
// arrives as a later message."
type Dispatcher struct {
	logger log.Logger
	sub    *bus.Subscription

	sync *blocksync.Synchronizer
	acc  *accumulator.Accumulator
	book *peer.Book
	leap *catchup.Requester
}

func New(logger log.Logger, b *bus.Bus, sync *blocksync.Synchronizer, acc *accumulator.Accumulator, book *peer.Book, leap *catchup.Requester) *Dispatcher {
	return &Dispatcher{
		logger: logger.With("module", "dispatch"),
		sub:    b.Subscribe(),
		sync:   sync,
		acc:    acc,
		book:   book,
		leap:   leap,
	}
}

// Run drains the subscription until ctx is done or the bus is stopped.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.sub.Unsubscribe()
	for {
		ev, err := d.sub.Next(ctx)
		if err != nil {
			return
		}
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev bus.Event) {
	switch ev.Kind {
	case bus.KindFetchComplete:
		d.handleFetchComplete(ev)
	case bus.KindGossipArrival:
		d.handleGossipArrival(ev)
	case bus.KindFinalitySignature:
		d.handleFinalitySignature(ev)
	case bus.KindPeerUp:
		d.handlePeerUp(ev)
	case bus.KindPeerDown:
		d.handlePeerDown(ev)
	}
}

func (d *Dispatcher) handleFetchComplete(ev bus.Event) {
	switch p := ev.Payload.(type) {
	case FetchResponse:
		b, ok := d.sync.BuilderByHash(p.BlockHash)
		if !ok {
			return
		}
		var err error
		switch {
		case p.Header != nil:
			err = b.OnHeaderFetched(*p.Header, p.ComputedHash, p.From)
		case p.ApprovalsHashes != nil:
			err = b.OnApprovalsHashesFetched(*p.ApprovalsHashes, p.From)
		case p.Body != nil:
			err = b.OnBodyFetched(p.Body, p.BodyConsistent, p.From)
		case p.ExecutionRoot != nil:
			b.OnExecutionResultsFetched(*p.ExecutionRoot)
		case p.TrieNodeHash != nil:
			b.OnGlobalStateNodeFetched(*p.TrieNodeHash, p.TrieChildren)
		}
		if err != nil {
			d.logger.Error("rejected fetch response", "err", err, "peer", p.From, "block_hash", p.BlockHash)
			var dishonest *reactorerr.PeerDishonest
			if errors.As(err, &dishonest) {
				d.book.FlagDishonest(dishonest.Peer)
			}
		}
	case FetchFailure:
		if b, ok := d.sync.BuilderByHash(p.BlockHash); ok {
			b.OnFetchFailed(p.Err)
		}
	case SyncLeapArrival:
		if d.leap == nil {
			return
		}
		hash, height, protocolVersion := d.leap.Deliver(p.Leap)
		d.sync.RegisterBlock(hash, height, blocksync.Forward, protocolVersion)
	}
}

func (d *Dispatcher) handleGossipArrival(ev bus.Event) {
	p, ok := ev.Payload.(GossipArrival)
	if !ok {
		return
	}
	d.acc.RegisterAnnouncement(p.BlockHash, p.Height, p.HaveHeight, p.From)
}

func (d *Dispatcher) handleFinalitySignature(ev bus.Event) {
	p, ok := ev.Payload.(FinalitySignatureArrival)
	if !ok {
		return
	}
	if b, found := d.sync.BuilderByHash(p.Signature.BlockHash); found {
		b.OnFinalitySignatureFetched(d.acc, p.Signature, p.Validators, p.Verified, p.From)
		return
	}
	d.acc.RegisterFinalitySignature(p.Signature, p.Validators, p.Verified, p.From, accumulator.Weak)
}

func (d *Dispatcher) handlePeerUp(ev bus.Event) {
	p, ok := ev.Payload.(PeerNotice)
	if !ok {
		return
	}
	d.book.Add(p.Peer, p.ProtocolVersion, p.IsValidator)
}

func (d *Dispatcher) handlePeerDown(ev bus.Event) {
	p, ok := ev.Payload.(PeerNotice)
	if !ok {
		return
	}
	d.book.Remove(p.Peer)
}
