package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/internal/accumulator"
	"github.com/relaychain/noded/internal/blocksync"
	"github.com/relaychain/noded/internal/bus"
	"github.com/relaychain/noded/internal/catchup"
	"github.com/relaychain/noded/internal/collab/fake"
	"github.com/relaychain/noded/internal/peer"
	"github.com/relaychain/noded/log"
	"github.com/relaychain/noded/types"
	"github.com/relaychain/noded/version"
)

type fixture struct {
	bus  *bus.Bus
	sync *blocksync.Synchronizer
	acc  *accumulator.Accumulator
	book *peer.Book
	leap *catchup.Requester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	book := peer.NewBook(peer.Config{
		BlocklistRetainMinDuration:          time.Second,
		BlocklistRetainMaxDuration:          2 * time.Second,
		MaxOutgoingByteRateNonValidators:    1 << 20,
		MaxIncomingMessageRateNonValidators: 1000,
	})
	transport := fake.NewTransport()
	storage := fake.NewStorage()
	acc := accumulator.New(accumulator.Config{PurgeInterval: time.Minute, DeadAirInterval: time.Minute, AttemptExecutionThreshold: 10}, nil, nil)
	sync := blocksync.New(blocksync.Config{
		NeedNextInterval:                 10 * time.Millisecond,
		PeerRefreshInterval:              time.Second,
		DisconnectDishonestPeersInterval: time.Second,
		LatchResetInterval:               time.Second,
		GetFromPeerTimeout:               100 * time.Millisecond,
		MaxParallelTrieFetches:           4,
		MaxAttempts:                      3,
	}, log.NewNopLogger(), book, transport, storage, acc)

	return &fixture{
		bus:  bus.New(log.NewNopLogger()),
		sync: sync,
		acc:  acc,
		book: book,
		leap: catchup.NewRequester(transport, catchup.NewLeapCache(time.Minute)),
	}
}

func (f *fixture) dispatcher() *Dispatcher {
	return New(log.NewNopLogger(), f.bus, f.sync, f.acc, f.book, f.leap)
}

func TestHandleFetchCompleteDeliversHeaderToWaitingBuilder(t *testing.T) {
	f := newFixture(t)
	hash := types.Hash{0x01}
	f.sync.RegisterBlock(hash, 10, blocksync.Forward, version.BlockProtocol)
	require.True(t, f.sync.HasBuilder(blocksync.Forward))

	d := f.dispatcher()
	d.handle(bus.Event{
		Kind: bus.KindFetchComplete,
		Payload: FetchResponse{
			BlockHash:    hash,
			From:         types.PeerID("peer-1"),
			Header:       &types.Header{Height: 10},
			ComputedHash: hash,
		},
	})

	b, ok := f.sync.BuilderByHash(hash)
	require.True(t, ok)
	require.Equal(t, blocksync.NeedApprovalsHashes, b.Tag())
}

func TestHandleFetchCompleteMismatchFlagsPeerDishonest(t *testing.T) {
	f := newFixture(t)
	hash := types.Hash{0x05}
	f.sync.RegisterBlock(hash, 10, blocksync.Forward, version.BlockProtocol)
	f.book.Add("peer-9", 1, false)

	d := f.dispatcher()
	d.handle(bus.Event{
		Kind: bus.KindFetchComplete,
		Payload: FetchResponse{
			BlockHash:    hash,
			From:         types.PeerID("peer-9"),
			Header:       &types.Header{Height: 10},
			ComputedHash: types.Hash{0xFF},
		},
	})

	info, ok := f.book.Get("peer-9")
	require.True(t, ok)
	require.True(t, info.Dishonest)
}

func TestHandleGossipArrivalRegistersAnnouncement(t *testing.T) {
	f := newFixture(t)
	hash := types.Hash{0x02}
	d := f.dispatcher()

	d.handle(bus.Event{
		Kind: bus.KindGossipArrival,
		Payload: GossipArrival{
			BlockHash:  hash,
			Height:     5,
			HaveHeight: true,
			From:       types.PeerID("peer-2"),
		},
	})

	require.Equal(t, 1, f.acc.Len())
}

func TestHandlePeerUpAndDownUpdateBook(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	id := types.PeerID("peer-3")

	d.handle(bus.Event{Kind: bus.KindPeerUp, Payload: PeerNotice{Peer: id, ProtocolVersion: 1, IsValidator: true}})
	_, ok := f.book.Get(id)
	require.True(t, ok)

	d.handle(bus.Event{Kind: bus.KindPeerDown, Payload: PeerNotice{Peer: id}})
	_, ok = f.book.Get(id)
	require.False(t, ok)
}

func TestHandleFetchCompleteSyncLeapRegistersForwardBuilder(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()
	anchor := types.Hash{0x03}
	tip := types.Hash{0x04}

	d.handle(bus.Event{
		Kind: bus.KindFetchComplete,
		Payload: SyncLeapArrival{Leap: catchup.Leap{
			TrustedHash:     anchor,
			TipHash:         tip,
			TipHeight:       42,
			ProtocolVersion: version.BlockProtocol,
		}},
	})

	require.True(t, f.sync.HasBuilder(blocksync.Forward))
	_, ok := f.sync.BuilderByHash(anchor)
	require.False(t, ok, "builder must target the discovered tip, not the trust anchor")
	b, ok := f.sync.BuilderByHash(tip)
	require.True(t, ok)
	require.Equal(t, uint64(42), b.Height)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	d := f.dispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	f.bus.Publish(bus.KindGossipArrival, uuid.Nil, GossipArrival{})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
