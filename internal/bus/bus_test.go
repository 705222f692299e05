package bus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/relaychain/noded/log"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := New(log.NewNopLogger())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop() //nolint:errcheck

	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish(KindPeerUp, uuid.Nil, "peer-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	e1, err := s1.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindPeerUp, e1.Kind)
	require.Equal(t, "peer-1", e1.Payload)

	e2, err := s2.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, e1.CorrelationID, e2.CorrelationID)
}

func TestPublishPreservesCorrelationIDForResponses(t *testing.T) {
	b := New(log.NewNopLogger())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop() //nolint:errcheck

	s := b.Subscribe()
	req := b.Publish(KindControlTick, uuid.Nil, nil)
	b.Publish(KindFetchComplete, req.CorrelationID, "response")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.Next(ctx)
	require.NoError(t, err)
	resp, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, req.CorrelationID, resp.CorrelationID)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(log.NewNopLogger())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop() //nolint:errcheck

	s := b.Subscribe()
	s.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.Error(t, err)
}
