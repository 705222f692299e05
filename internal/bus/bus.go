// Package bus implements the control bus: the single, uniform path by
// which fetch completions, gossip arrivals, peer up/down notices, and
// timer ticks reach the reactor, the accumulator, and the synchronizer.
// Every event carries a correlation ID so a response can be matched back
// to the request that produced it and duplicate delivery can be detected.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/relaychain/noded/libs/service"
	"github.com/relaychain/noded/log"
)

// ErrSubscriptionClosed is returned by Subscription.Next once the
// subscription has been unsubscribed or the bus has been stopped.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Kind tags an Event by what produced it.
type Kind int

const (
	KindFetchComplete Kind = iota
	KindGossipArrival
	KindPeerUp
	KindPeerDown
	KindControlTick
	KindFinalitySignature
)

func (k Kind) String() string {
	switch k {
	case KindFetchComplete:
		return "fetch_complete"
	case KindGossipArrival:
		return "gossip_arrival"
	case KindPeerUp:
		return "peer_up"
	case KindPeerDown:
		return "peer_down"
	case KindControlTick:
		return "control_tick"
	case KindFinalitySignature:
		return "finality_signature"
	default:
		return "unknown"
	}
}

// Event is the envelope every consumer of the bus receives. CorrelationID
// is stamped by Publish when the caller does not supply one (a fresh
// event), and carried through unchanged when the caller supplies one (a
// response to an earlier request), so a subscriber can detect a response
// it has already processed.
type Event struct {
	CorrelationID uuid.UUID
	Kind          Kind
	Payload       any
}

// Subscription is a single consumer's view of the bus: a FIFO channel of
// events plus the ability to stop receiving them.
type Subscription struct {
	id  uuid.UUID
	ch  chan Event
	bus *Bus
}

func (s *Subscription) ID() uuid.UUID { return s.id }

// Next blocks until an event arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case e, ok := <-s.ch:
		if !ok {
			return Event{}, ErrSubscriptionClosed
		}
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *Subscription) Unsubscribe() { s.bus.unsubscribe(s.id) }

// Bus is a common event bus for the reactor core. It never blocks a
// publisher on a slow subscriber: each subscription has a bounded buffer,
// and a full buffer causes the oldest unread event to be dropped rather
// than stalling the publisher — the publisher is always the event loop
// itself, which must never block on I/O.
type Bus struct {
	service.BaseService

	logger log.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription

	bufferCapacity int
}

const defaultBufferCapacity = 64

// New returns a new control bus with default buffering.
func New(logger log.Logger) *Bus {
	b := &Bus{
		logger:         logger.With("module", "bus"),
		subs:           make(map[uuid.UUID]*Subscription),
		bufferCapacity: defaultBufferCapacity,
	}
	b.BaseService = *service.NewBaseService(b.logger, "Bus", b)
	return b
}

func (b *Bus) OnStart(context.Context) error { return nil }

func (b *Bus) OnStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Subscribe registers a new consumer of the bus.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{
		id:  uuid.New(),
		ch:  make(chan Event, b.bufferCapacity),
		bus: b,
	}
	b.subs[s.id] = s
	return s
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to every current subscriber. If correlationID
// is the zero value, a fresh one is minted; pass the originating event's
// CorrelationID to publish a response to it.
func (b *Bus) Publish(kind Kind, correlationID uuid.UUID, payload any) Event {
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	e := Event{CorrelationID: correlationID, Kind: kind, Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			// Buffer full: drop the oldest event to make room rather
			// than block the publisher, which is always the event loop.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
			b.logger.Error("subscriber buffer full, dropped an event", "kind", kind.String())
		}
	}
	return e
}
