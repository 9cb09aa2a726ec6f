// Package client issues CRUD requests for one model and controller calls
// over a bus, and listens to the events the router publishes.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/drblury/sparked/internal/runtime/bus"
	"github.com/drblury/sparked/internal/runtime/dispatch"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/store"
	"github.com/drblury/sparked/internal/runtime/subject"
)

// DefaultTimeout bounds every request unless WithTimeout says otherwise.
const DefaultTimeout = 5 * time.Second

// Model events a client can listen to.
const (
	EventCreated = "created"
	EventDeleted = "deleted"
	EventFound   = "found"
	EventUpdated = "updated"
)

var modelEvents = []string{EventCreated, EventDeleted, EventFound, EventUpdated}

// EventHandler receives the data of a model event.
type EventHandler func(ctx context.Context, event string, data any)

type settings struct {
	timeout time.Duration
	logger  loggingpkg.ServiceLogger
}

// Option configures a Model or a Controller.
type Option func(*settings)

// WithTimeout sets the request timeout. Zero means wait until the context
// is done.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithLogger sets the logger. A nil logger panics.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	if logger == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	return func(s *settings) { s.logger = logger }
}

func newSettings(opts []Option) settings {
	s := settings{timeout: DefaultTimeout, logger: loggingpkg.NopLogger()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Model talks to the router serving one model.
type Model struct {
	bus      *bus.Bus
	name     string
	settings settings

	mu            sync.RWMutex
	connected     bool
	subscriptions []string
	listeners     map[string][]EventHandler
}

// New returns a client for model. The name is lowercased.
func New(b *bus.Bus, model string, opts ...Option) (*Model, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return nil, errspkg.ErrModelRequired
	}
	if err := singleToken(name); err != nil {
		return nil, err
	}
	s := newSettings(opts)
	s.logger = s.logger.With(loggingpkg.LogFields{"component": "client", "model": name})
	return &Model{
		bus:       b,
		name:      name,
		settings:  s,
		listeners: make(map[string][]EventHandler),
	}, nil
}

// Name is the normalised model name.
func (m *Model) Name() string {
	return m.name
}

// Connected reports whether the event subscriptions are active.
func (m *Model) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// OnEvent registers fn for one of created, deleted, found or updated.
func (m *Model) OnEvent(event string, fn EventHandler) error {
	if fn == nil {
		return errspkg.ErrCallbackRequired
	}
	if !isModelEvent(event) {
		return fmt.Errorf("%w: %q is not a model event", errspkg.ErrUnknownAction, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], fn)
	return nil
}

// Connect subscribes to the model events. Calling it twice is a no-op.
func (m *Model) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}
	for _, event := range modelEvents {
		id, err := m.bus.Subscribe(subject.Join(m.name, event), m.onEvent)
		if err != nil {
			m.unsubscribeLocked()
			return err
		}
		m.subscriptions = append(m.subscriptions, id)
	}
	m.connected = true
	m.settings.logger.Debug("Client connected", nil)
	return nil
}

// Disconnect removes the event subscriptions. Calling it twice is a no-op.
func (m *Model) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.unsubscribeLocked()
	m.connected = false
	m.settings.logger.Debug("Client disconnected", nil)
	return nil
}

func (m *Model) unsubscribeLocked() {
	for _, id := range m.subscriptions {
		m.bus.Unsubscribe(id)
	}
	m.subscriptions = nil
}

func (m *Model) onEvent(ctx context.Context, env bus.Envelope) error {
	tokens := subject.Tokens(env.Subject)
	event := tokens[len(tokens)-1]

	reply, err := dispatch.DecodeReply(env.Message)
	if err != nil {
		return err
	}

	m.mu.RLock()
	listeners := append([]EventHandler(nil), m.listeners[event]...)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, event, reply.Data)
	}
	return nil
}

// Create inserts objects and returns the stored documents.
func (m *Model) Create(ctx context.Context, objects []store.Document, opts store.Options) ([]store.Document, error) {
	return m.documents(ctx, dispatch.ActionCreate, dispatch.CreateRequest{Objects: objects, Options: opts})
}

// Find returns the documents matching conditions.
func (m *Model) Find(ctx context.Context, conditions store.Document, opts store.Options) ([]store.Document, error) {
	return m.documents(ctx, dispatch.ActionFind, dispatch.QueryRequest{Conditions: conditions, Options: opts})
}

// Delete removes the documents matching conditions and returns them.
func (m *Model) Delete(ctx context.Context, conditions store.Document, opts store.Options) ([]store.Document, error) {
	return m.documents(ctx, dispatch.ActionDelete, dispatch.QueryRequest{Conditions: conditions, Options: opts})
}

// Update applies the operator document to every match and returns the
// updated documents.
func (m *Model) Update(ctx context.Context, conditions store.Document, updates map[string]any, opts store.Options) ([]store.Document, error) {
	return m.documents(ctx, dispatch.ActionUpdate, dispatch.UpdateRequest{
		Conditions: conditions,
		Updates:    updates,
		Options:    opts,
	})
}

func (m *Model) documents(ctx context.Context, action dispatch.Action, msg any) ([]store.Document, error) {
	data, err := request(ctx, m.bus, subject.Join(m.name, action.String()), msg, m.settings)
	if err != nil {
		return nil, err
	}
	return toDocuments(data)
}

// Controller calls <service>.<controller>.call.
type Controller struct {
	bus      *bus.Bus
	subject  string
	settings settings
}

// NewController returns a caller for one controller of a service.
func NewController(b *bus.Bus, service, controller string, opts ...Option) (*Controller, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if err := singleToken(service); err != nil {
		return nil, fmt.Errorf("service name: %w", err)
	}
	if err := singleToken(controller); err != nil {
		return nil, fmt.Errorf("controller name: %w", err)
	}
	return &Controller{
		bus:      b,
		subject:  subject.Join(service, controller, dispatch.ActionCall.String()),
		settings: newSettings(opts),
	}, nil
}

// Subject is the command subject this controller is called on.
func (c *Controller) Subject() string {
	return c.subject
}

// Call sends args to the controller and returns its result.
func (c *Controller) Call(ctx context.Context, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return request(ctx, c.bus, c.subject, dispatch.CallRequest{Args: args}, c.settings)
}

func request(ctx context.Context, b *bus.Bus, subj string, msg any, s settings) (any, error) {
	env, err := b.RequestSync(ctx, subj, msg, bus.RequestOptions{Timeout: s.timeout})
	if err != nil {
		s.logger.Debug("Request failed", loggingpkg.LogFields{"subject": subj, "error": err.Error()})
		return nil, err
	}
	reply, err := dispatch.DecodeReply(env.Message)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply.Data, nil
}

func toDocuments(data any) ([]store.Document, error) {
	switch d := data.(type) {
	case nil:
		return []store.Document{}, nil
	case []store.Document:
		return d, nil
	}
	var docs []store.Document
	if err := jsoncodec.Convert(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrInvalidMessage, err)
	}
	return docs, nil
}

func isModelEvent(event string) bool {
	for _, e := range modelEvents {
		if e == event {
			return true
		}
	}
	return false
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
