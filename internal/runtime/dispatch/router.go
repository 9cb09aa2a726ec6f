// Package dispatch routes subject-encoded CRUD commands to a document store
// and controller calls to registered handlers, then answers on the bus.
//
// A command on <model>.<action> is answered on its reply subject with
// {data} or {error}. Successful commands are also published as a domain event
// on <model>.<event>. Controller calls use <service>.<controller>.call and
// emit <service>.<controller>.called.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/sparked/internal/runtime/bus"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/mutation"
	"github.com/drblury/sparked/internal/runtime/store"
	"github.com/drblury/sparked/internal/runtime/subject"
)

const tracerName = "sparked-dispatch"

// Handler serves <service>.<controller>.call with the args of the message.
type Handler func(ctx context.Context, args []any) (any, error)

// Router is safe for concurrent use.
type Router struct {
	bus      *bus.Bus
	store    store.Store
	name     string
	handlers map[string]Handler
	models   map[string]struct{}
	hooks    Hooks
	logger   loggingpkg.ServiceLogger
	tracer   trace.Tracer

	mu            sync.Mutex
	subscriptions []string
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithName sets the service name used as the first token of controller
// subjects.
func WithName(name string) RouterOption {
	return func(r *Router) { r.name = name }
}

// WithHandler registers a controller.
func WithHandler(controller string, h Handler) RouterOption {
	return func(r *Router) { r.handlers[controller] = h }
}

// WithHandlers registers several controllers at once.
func WithHandlers(handlers map[string]Handler) RouterOption {
	return func(r *Router) {
		for name, h := range handlers {
			r.handlers[name] = h
		}
	}
}

// WithHooks merges hooks after the ones already configured.
func WithHooks(h Hooks) RouterOption {
	return func(r *Router) { r.hooks = r.hooks.Merge(h) }
}

func WithLogger(logger loggingpkg.ServiceLogger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records every dispatch on m.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.hooks = r.hooks.Merge(MetricsHooks(m))
		}
	}
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) RouterOption {
	return func(r *Router) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewRouter builds a router over b. s may be nil for a controller-only
// router.
func NewRouter(b *bus.Bus, s store.Store, opts ...RouterOption) (*Router, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	r := &Router{
		bus:      b,
		store:    s,
		handlers: make(map[string]Handler),
		models:   make(map[string]struct{}),
		logger:   loggingpkg.NopLogger(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	if s != nil {
		for _, model := range s.Models() {
			r.models[store.NormalizeModel(model)] = struct{}{}
		}
	}
	if len(r.models) == 0 && len(r.handlers) == 0 {
		return nil, errspkg.ErrStoreRequired
	}
	if len(r.handlers) > 0 {
		if err := singleToken(r.name); err != nil {
			return nil, fmt.Errorf("service name: %w", err)
		}
	}
	for controller, h := range r.handlers {
		if h == nil {
			return nil, fmt.Errorf("%w: controller %q", errspkg.ErrHandlerRequired, controller)
		}
		if err := singleToken(controller); err != nil {
			return nil, fmt.Errorf("controller name: %w", err)
		}
	}
	r.logger = r.logger.With(loggingpkg.LogFields{"component": "dispatch"})
	return r, nil
}

func singleToken(name string) error {
	if err := subject.ValidateSubject(name); err != nil {
		return err
	}
	if len(subject.Tokens(name)) != 1 {
		return fmt.Errorf("%w: %q must be a single token", errspkg.ErrInvalidSubject, name)
	}
	return nil
}

// Subjects lists every command subject the router answers, CRUD subjects
// first.
func (r *Router) Subjects() []string {
	models := make([]string, 0, len(r.models))
	for model := range r.models {
		models = append(models, model)
	}
	sort.Strings(models)

	var subjects []string
	for _, model := range models {
		for _, action := range CRUDActions {
			subjects = append(subjects, subject.Join(model, action.String()))
		}
	}

	controllers := make([]string, 0, len(r.handlers))
	for controller := range r.handlers {
		controllers = append(controllers, controller)
	}
	sort.Strings(controllers)
	for _, controller := range controllers {
		subjects = append(subjects, subject.Join(r.name, controller, ActionCall.String()))
	}
	return subjects
}

// Start subscribes the router to its own subjects. It is only needed when
// the router is used without a Service.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subscriptions) > 0 {
		return nil
	}
	for _, subj := range r.Subjects() {
		id, err := r.bus.Subscribe(subj, r.Handle)
		if err != nil {
			r.unsubscribeLocked()
			return err
		}
		r.subscriptions = append(r.subscriptions, id)
	}
	return nil
}

// Stop removes the subscriptions made by Start.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked()
}

func (r *Router) unsubscribeLocked() {
	for _, id := range r.subscriptions {
		r.bus.Unsubscribe(id)
	}
	r.subscriptions = nil
}

// Handle is the bus callback. Messages that are not commands for this
// router are ignored. Operation failures are answered with {error} and
// reported to the hooks; only publish failures are returned. An unknown
// action on a model subject is answered with {error} too instead of being
// dropped.
func (r *Router) Handle(ctx context.Context, env bus.Envelope) error {
	route, err := ParseRoute(env.Subject)
	if err != nil || route.Action == ActionEvent || !r.owns(route) {
		return nil
	}

	dctx := DispatchContext{
		Subject:   env.Subject,
		Route:     route,
		ReplyTo:   env.ReplyTo,
		StartedAt: time.Now(),
	}

	ctx, span := r.tracer.Start(ctx, "Dispatch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("sparked.subject", env.Subject),
		attribute.String("sparked.model", route.Model),
		attribute.String("sparked.action", route.Action.String()),
		attribute.Bool("sparked.request", env.ReplyTo != ""),
	)
	dctx.Context = ctx

	if r.hooks.OnDispatchStart != nil {
		r.hooks.OnDispatchStart(dctx)
	}

	result, err := r.execute(ctx, route, env.Message)
	dctx.Duration = time.Since(dctx.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.hooks.OnDispatchError != nil {
			r.hooks.OnDispatchError(dctx, err)
		}
		return r.reply(ctx, env.ReplyTo, Reply{Error: err.Error()})
	}

	reply := Reply{Data: result}
	replyErr := r.reply(ctx, env.ReplyTo, reply)
	eventErr := r.bus.Publish(ctx, route.EventSubject(), reply, "")
	if r.hooks.OnDispatchDone != nil {
		r.hooks.OnDispatchDone(dctx)
	}
	return errors.Join(replyErr, eventErr)
}

func (r *Router) owns(route Route) bool {
	if route.Controller != "" {
		return route.Model == r.name && r.name != ""
	}
	_, ok := r.models[store.NormalizeModel(route.Model)]
	return ok
}

func (r *Router) reply(ctx context.Context, replyTo string, reply Reply) error {
	if replyTo == "" {
		return nil
	}
	return r.bus.Publish(ctx, replyTo, reply, "")
}

func (r *Router) execute(ctx context.Context, route Route, msg any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sparked: %s %s panicked: %v", route.Model, route.Token, rec)
		}
	}()

	switch route.Action {
	case ActionCreate:
		req, err := DecodeCreate(msg)
		if err != nil {
			return nil, err
		}
		req.Options.Projection = mergeProjection(req.Options.Projection, req.Projection)
		return r.store.Create(ctx, route.Model, req.Objects, req.Options)
	case ActionFind:
		req, err := DecodeQuery(msg)
		if err != nil {
			return nil, err
		}
		req.Options.Projection = mergeProjection(req.Options.Projection, req.Projection)
		return r.store.Find(ctx, route.Model, req.Conditions, req.Options)
	case ActionDelete:
		req, err := DecodeQuery(msg)
		if err != nil {
			return nil, err
		}
		req.Options.Projection = mergeProjection(req.Options.Projection, req.Projection)
		return r.store.Delete(ctx, route.Model, req.Conditions, req.Options)
	case ActionUpdate:
		req, err := DecodeUpdate(msg)
		if err != nil {
			return nil, err
		}
		spec, err := mutation.Parse(req.Updates)
		if err != nil {
			return nil, err
		}
		req.Options.Projection = mergeProjection(req.Options.Projection, req.Projection)
		return r.store.Update(ctx, route.Model, req.Conditions, spec, req.Options)
	case ActionCall:
		handler, ok := r.handlers[route.Controller]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownController, route.Controller)
		}
		req, err := DecodeCall(msg)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req.Args)
	case ActionUnknown, ActionEvent:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownAction, route.Token)
	default:
		return nil, fmt.Errorf("%w: %v", errspkg.ErrUnknownAction, route.Action)
	}
}

func mergeProjection(fromOptions, topLevel map[string]any) map[string]any {
	if topLevel != nil {
		return topLevel
	}
	return fromOptions
}
