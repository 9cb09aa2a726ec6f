package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sparked/internal/runtime/bus"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/store"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]any
}

func newRecorder(t *testing.T, b *bus.Bus, pattern string) *recorder {
	t.Helper()
	rec := &recorder{events: map[string][]any{}}
	id, err := b.Subscribe(pattern, func(_ context.Context, env bus.Envelope) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events[env.Subject] = append(rec.events[env.Subject], env.Message)
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Unsubscribe(id) })
	return rec
}

func (r *recorder) get(subject string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[subject]
}

type fixture struct {
	bus    *bus.Bus
	store  *store.Memory
	router *Router
	errs   []error
}

func newFixture(t *testing.T, opts ...RouterOption) *fixture {
	t.Helper()
	f := &fixture{bus: bus.New()}
	var err error
	f.store, err = store.NewMemory("Test")
	require.NoError(t, err)

	opts = append(opts, WithHooks(Hooks{OnDispatchError: func(_ DispatchContext, err error) {
		f.errs = append(f.errs, err)
	}}))
	f.router, err = NewRouter(f.bus, f.store, opts...)
	require.NoError(t, err)
	require.NoError(t, f.router.Start(context.Background()))
	t.Cleanup(f.router.Stop)
	return f
}

func (f *fixture) request(t *testing.T, subject string, msg any) Reply {
	t.Helper()
	env, err := f.bus.RequestSync(context.Background(), subject, msg, bus.RequestOptions{Timeout: time.Second})
	require.NoError(t, err)
	reply, err := DecodeReply(env.Message)
	require.NoError(t, err)
	return reply
}

func TestRouterCRUDRoundTrip(t *testing.T) {
	f := newFixture(t)
	events := newRecorder(t, f.bus, "test.*")

	created := f.request(t, "test.create", map[string]any{"objects": map[string]any{"foo": 1}})
	require.Empty(t, created.Error)
	assert.Equal(t, []store.Document{{"foo": 1, "id": int64(1)}}, created.Data)

	found := f.request(t, "test.find", map[string]any{"conditions": map[string]any{"foo": 1}})
	assert.Equal(t, []store.Document{{"foo": 1, "id": int64(1)}}, found.Data)

	updated := f.request(t, "test.update", map[string]any{
		"conditions": map[string]any{"foo": 1},
		"updates":    map[string]any{"$inc": map[string]any{"foo": 10}},
	})
	assert.Equal(t, []store.Document{{"foo": 11, "id": int64(1)}}, updated.Data)

	deleted := f.request(t, "test.delete", map[string]any{"conditions": map[string]any{"foo": 11}})
	assert.Equal(t, []store.Document{{"foo": 11, "id": int64(1)}}, deleted.Data)

	empty := f.request(t, "test.find", map[string]any{"conditions": map[string]any{"foo": 11}})
	assert.Equal(t, []store.Document{}, empty.Data)

	assert.Equal(t, []any{Reply{Data: []store.Document{{"foo": 1, "id": int64(1)}}}}, events.get("test.created"))
	assert.Len(t, events.get("test.found"), 2)
	assert.Len(t, events.get("test.updated"), 1)
	assert.Len(t, events.get("test.deleted"), 1)
	assert.Empty(t, f.errs)
}

func TestRouterFireAndForget(t *testing.T) {
	f := newFixture(t)
	events := newRecorder(t, f.bus, "test.created")

	require.NoError(t, f.bus.Publish(context.Background(), "test.create", CreateRequest{Objects: []store.Document{{"a": 1}}}, ""))

	require.Len(t, events.get("test.created"), 1)
	docs, err := f.store.Find(context.Background(), "test", nil, store.Options{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRouterFailureRepliesWithoutEvent(t *testing.T) {
	f := newFixture(t)
	events := newRecorder(t, f.bus, "test.*")

	reply := f.request(t, "test.create", map[string]any{"nothing": true})
	assert.Nil(t, reply.Data)
	assert.Contains(t, reply.Error, errspkg.ErrInvalidMessage.Error())

	reply = f.request(t, "test.update", map[string]any{"updates": map[string]any{"$set": 5}})
	assert.NotEmpty(t, reply.Error)

	assert.Empty(t, events.get("test.created"))
	assert.Empty(t, events.get("test.updated"))
	require.Len(t, f.errs, 2)
	assert.ErrorIs(t, f.errs[0], errspkg.ErrInvalidMessage)
}

func TestRouterUnknownActionReplies(t *testing.T) {
	f := newFixture(t)
	_, err := f.bus.Subscribe("test.frobnicate", f.router.Handle)
	require.NoError(t, err)

	reply := f.request(t, "test.frobnicate", map[string]any{})
	assert.Contains(t, reply.Error, errspkg.ErrUnknownAction.Error())
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], errspkg.ErrUnknownAction)
}

func TestRouterIgnoresForeignSubjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.router.Handle(ctx, bus.Envelope{Subject: "other.create", Message: map[string]any{"objects": map[string]any{}}}))
	assert.NoError(t, f.router.Handle(ctx, bus.Envelope{Subject: "test.created", Message: Reply{}}))
	assert.NoError(t, f.router.Handle(ctx, bus.Envelope{Subject: "a.b.c.d"}))
	assert.Empty(t, f.errs)
}

func TestRouterControllers(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t,
		WithName("shop"),
		WithHandler("sum", func(_ context.Context, args []any) (any, error) {
			total := 0
			for _, a := range args {
				total += a.(int)
			}
			return total, nil
		}),
		WithHandler("fail", func(context.Context, []any) (any, error) { return nil, boom }),
		WithHandler("explode", func(context.Context, []any) (any, error) { panic("kaput") }),
	)
	events := newRecorder(t, f.bus, "shop.*.called")

	reply := f.request(t, "shop.sum.call", map[string]any{"args": []any{1, 2, 3}})
	assert.Equal(t, Reply{Data: 6}, reply)
	assert.Equal(t, []any{Reply{Data: 6}}, events.get("shop.sum.called"))

	reply = f.request(t, "shop.fail.call", CallRequest{})
	assert.Equal(t, Reply{Error: "boom"}, reply)
	assert.Empty(t, events.get("shop.fail.called"))

	reply = f.request(t, "shop.explode.call", nil)
	assert.Contains(t, reply.Error, "panicked")

	require.Len(t, f.errs, 2)
	assert.ErrorIs(t, f.errs[0], boom)
}

func TestRouterSubjects(t *testing.T) {
	f := newFixture(t, WithName("shop"), WithHandler("sum", func(context.Context, []any) (any, error) { return nil, nil }))
	assert.Equal(t, []string{
		"test.create", "test.delete", "test.find", "test.update",
		"shop.sum.call",
	}, f.router.Subjects())
	assert.Equal(t, 5, f.bus.Registry().Count())
}

func TestNewRouterValidation(t *testing.T) {
	s, err := store.NewMemory("a")
	require.NoError(t, err)
	handler := func(context.Context, []any) (any, error) { return nil, nil }

	_, err = NewRouter(nil, s)
	assert.ErrorIs(t, err, errspkg.ErrBusRequired)

	_, err = NewRouter(bus.New(), nil)
	assert.ErrorIs(t, err, errspkg.ErrStoreRequired)

	_, err = NewRouter(bus.New(), nil, WithHandler("x", handler))
	assert.ErrorIs(t, err, errspkg.ErrInvalidSubject)

	_, err = NewRouter(bus.New(), nil, WithName("svc"), WithHandler("x.y", handler))
	assert.ErrorIs(t, err, errspkg.ErrInvalidSubject)

	_, err = NewRouter(bus.New(), nil, WithName("svc"), WithHandler("x", nil))
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	r, err := NewRouter(bus.New(), nil, WithName("svc"), WithHandler("x", handler))
	require.NoError(t, err)
	assert.Equal(t, []string{"svc.x.call"}, r.Subjects())
}

func TestRouterMetricsAndHooks(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	var started, done int
	f := newFixture(t, WithMetrics(m), WithHooks(Hooks{
		OnDispatchStart: func(DispatchContext) { started++ },
		OnDispatchDone:  func(ctx DispatchContext) { done++; assert.Equal(t, ActionCreate, ctx.Route.Action) },
	}))

	f.request(t, "test.create", map[string]any{"objects": []any{}})
	f.request(t, "test.create", map[string]any{})

	assert.Equal(t, 2, started)
	assert.Equal(t, 1, done)
	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Dispatches[metrics.OutcomeSuccess])
	assert.Equal(t, uint64(1), snap.Dispatches[metrics.OutcomeError])
}

func TestHooksMerge(t *testing.T) {
	var order []string
	a := Hooks{OnDispatchDone: func(DispatchContext) { order = append(order, "a") }}
	b := Hooks{
		OnDispatchDone:  func(DispatchContext) { order = append(order, "b") },
		OnDispatchError: func(DispatchContext, error) { order = append(order, "err") },
	}

	merged := a.Merge(b)
	merged.OnDispatchDone(DispatchContext{})
	merged.OnDispatchError(DispatchContext{}, errors.New("x"))
	assert.Nil(t, merged.OnDispatchStart)
	assert.Equal(t, []string{"a", "b", "err"}, order)
}
