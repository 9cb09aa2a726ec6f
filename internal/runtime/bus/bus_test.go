package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/registry"
)

func TestConnectDisconnectIdempotent(t *testing.T) {
	b := New()
	ctx := context.Background()

	assert.False(t, b.Connected())
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, b.Connect(ctx))
	assert.True(t, b.Connected())
	require.NoError(t, b.Disconnect(ctx))
	require.NoError(t, b.Disconnect(ctx))
	assert.False(t, b.Connected())
}

func TestPublishDeliversEnvelope(t *testing.T) {
	b := New()
	var got []Envelope
	_, err := b.Subscribe("a.*.c", func(_ context.Context, env Envelope) error {
		got = append(got, env)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "a.x.c", "hello", ""))
	require.NoError(t, b.Publish(context.Background(), "a.x.c.d", "ignored", ""))

	require.Len(t, got, 1)
	assert.Equal(t, Envelope{Message: "hello", Subject: "a.x.c"}, got[0])
}

func TestPublishRejectsMalformedSubjects(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Publish(context.Background(), "", nil, ""), errspkg.ErrInvalidSubject)
	assert.ErrorIs(t, b.Publish(context.Background(), "a.*", nil, ""), errspkg.ErrInvalidSubject)
	assert.ErrorIs(t, b.Publish(context.Background(), "a", nil, "bad..reply"), errspkg.ErrInvalidSubject)
}

func TestSubscribeRejectsMalformedPattern(t *testing.T) {
	b := New()
	_, err := b.Subscribe("a.>.b", func(context.Context, Envelope) error { return nil })
	assert.ErrorIs(t, err, errspkg.ErrInvalidPattern)
}

func TestFailingCallbacksAreIsolated(t *testing.T) {
	var reported []error
	b := New(WithErrorHandler(func(_ context.Context, env Envelope, _ string, err error) {
		assert.Equal(t, "jobs.run", env.Subject)
		reported = append(reported, err)
	}))

	boom := errors.New("boom")
	delivered := 0
	_, _ = b.Subscribe("jobs.>", func(context.Context, Envelope) error { return boom })
	_, _ = b.Subscribe("jobs.*", func(context.Context, Envelope) error { panic("kaput") })
	_, _ = b.Subscribe("jobs.run", func(context.Context, Envelope) error {
		delivered++
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "jobs.run", nil, ""))

	assert.Equal(t, 1, delivered)
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[0], boom)
	var panicErr *CallbackPanicError
	require.ErrorAs(t, reported[1], &panicErr)
	assert.Equal(t, "kaput", panicErr.Value)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	id, err := b.Subscribe("x", func(context.Context, Envelope) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "x", nil, ""))
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	b.Unsubscribe("never-existed")
	require.NoError(t, b.Publish(context.Background(), "x", nil, ""))

	assert.Equal(t, 1, calls)
}

func TestCallbackMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var second string
	calls := 0
	_, _ = b.Subscribe("x", func(context.Context, Envelope) error {
		b.Unsubscribe(second)
		_, _ = b.Subscribe("x", func(context.Context, Envelope) error { return nil })
		return nil
	})
	second, _ = b.Subscribe("x", func(context.Context, Envelope) error {
		calls++
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "x", nil, ""))
	assert.Equal(t, 1, calls, "snapshot taken before delivery still reaches the removed subscriber")
	require.NoError(t, b.Publish(context.Background(), "x", nil, ""))
	assert.Equal(t, 1, calls)
}

func TestIndependentAndSharedBuses(t *testing.T) {
	ctx := context.Background()
	shared := registry.New()
	a := New(WithRegistry(shared))
	b := New(WithRegistry(shared))
	c := New()

	hits := 0
	_, _ = a.Subscribe("ping", func(context.Context, Envelope) error {
		hits++
		return nil
	})

	require.NoError(t, b.Publish(ctx, "ping", nil, ""))
	require.NoError(t, c.Publish(ctx, "ping", nil, ""))
	assert.Equal(t, 1, hits)
	assert.Same(t, shared, a.Registry())
}

func TestPublishRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())
	b := New(WithMetrics(m))
	_, _ = b.Subscribe("orders.>", func(context.Context, Envelope) error { return errors.New("nope") })

	require.NoError(t, b.Publish(context.Background(), "orders.created", nil, ""))

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Published)
	assert.Equal(t, uint64(1), snap.Deliveries)
	assert.Equal(t, uint64(1), snap.CallbackFailures)
}
