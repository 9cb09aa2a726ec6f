package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drblury/sparked/internal/runtime/bus"
	"github.com/drblury/sparked/internal/runtime/client"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/subject"
)

// DefaultSubjects are subscribed when neither the service nor any capability
// names a subject: every one-token and every multi-token subject.
var DefaultSubjects = []string{"*", "*.>"}

// Capability is one behaviour layered onto a Service. Capabilities connect
// in the order they were added, disconnect in reverse order, and all see
// every message the service receives.
type Capability interface {
	Name() string
	OnConnect(ctx context.Context, s *Service) error
	OnDisconnect(ctx context.Context, s *Service) error
	OnMessage(ctx context.Context, s *Service, env bus.Envelope) error
}

// SubjectProvider is implemented by capabilities that need the service to
// listen on specific subjects.
type SubjectProvider interface {
	Subjects() []string
}

// Service owns a bus and an ordered list of capabilities.
type Service struct {
	Name    string
	Bus     *bus.Bus
	Logger  loggingpkg.ServiceLogger
	Metrics *metrics.Metrics

	// RequestTimeout is the timeout of clients created by Model and
	// Controller. Zero keeps client.DefaultTimeout.
	RequestTimeout time.Duration

	subjects     []string
	capabilities []Capability

	mu            sync.Mutex
	connected     bool
	active        []string
	subscriptions []string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithName sets the service name.
func WithName(name string) ServiceOption {
	return func(s *Service) { s.Name = name }
}

// WithBus uses b instead of a private bus.
func WithBus(b *bus.Bus) ServiceOption {
	return func(s *Service) { s.Bus = b }
}

// WithLogger sets the service logger. A nil logger panics.
func WithLogger(logger loggingpkg.ServiceLogger) ServiceOption {
	if logger == nil {
		panic(errspkg.ErrLoggerRequired)
	}
	return func(s *Service) { s.Logger = logger }
}

// WithMetrics records bus and dispatch metrics into m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.Metrics = m }
}

// WithSubjects adds patterns the service listens on.
func WithSubjects(patterns ...string) ServiceOption {
	return func(s *Service) { s.subjects = append(s.subjects, patterns...) }
}

// WithRequestTimeout sets the default timeout of the service's clients.
func WithRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.RequestTimeout = d }
}

// WithCapabilities appends capabilities in order.
func WithCapabilities(caps ...Capability) ServiceOption {
	return func(s *Service) { s.capabilities = append(s.capabilities, caps...) }
}

// NewService builds a disconnected service. Without WithBus it creates a bus
// sharing the service logger and metrics.
func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{Logger: loggingpkg.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}

	for _, pattern := range s.subjects {
		if err := subject.ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}
	for i, c := range s.capabilities {
		if c == nil {
			return nil, fmt.Errorf("capability %d is nil", i)
		}
	}

	if s.Bus == nil {
		s.Bus = bus.New(bus.WithLogger(s.Logger), bus.WithMetrics(s.Metrics))
	}
	if s.Name != "" {
		s.Logger = s.Logger.With(loggingpkg.LogFields{"service": s.Name})
	}
	return s, nil
}

// Capabilities returns the capabilities in connection order.
func (s *Service) Capabilities() []Capability {
	return append([]Capability(nil), s.capabilities...)
}

// Model returns a client for model on the service bus. opts are applied after
// the service defaults.
func (s *Service) Model(model string, opts ...client.Option) (*client.Model, error) {
	return client.New(s.Bus, model, s.clientOptions(opts)...)
}

// Controller returns a client calling controller on this service.
func (s *Service) Controller(controller string, opts ...client.Option) (*client.Controller, error) {
	return client.NewController(s.Bus, s.Name, controller, s.clientOptions(opts)...)
}

func (s *Service) clientOptions(opts []client.Option) []client.Option {
	base := []client.Option{client.WithLogger(s.Logger)}
	if s.RequestTimeout > 0 {
		base = append(base, client.WithTimeout(s.RequestTimeout))
	}
	return append(base, opts...)
}

// Subjects lists the patterns the service subscribes on Connect: its own
// subjects followed by those of every SubjectProvider, without duplicates.
// DefaultSubjects is used when the list would be empty.
func (s *Service) Subjects() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(patterns []string) {
		for _, p := range patterns {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	add(s.subjects)
	for _, c := range s.capabilities {
		if provider, ok := c.(SubjectProvider); ok {
			add(provider.Subjects())
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultSubjects...)
	}
	return out
}

// Connected reports whether Connect has completed.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect connects the bus, runs every OnConnect in order and subscribes the
// service subjects. If a capability fails, the ones already connected are
// disconnected again. Calling Connect twice is a no-op.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	if err := s.Bus.Connect(ctx); err != nil {
		return err
	}

	for i, c := range s.capabilities {
		if err := c.OnConnect(ctx, s); err != nil {
			rollback := s.disconnectCapabilities(ctx, s.capabilities[:i])
			return errors.Join(fmt.Errorf("connect %s: %w", c.Name(), err), rollback)
		}
	}

	s.active = s.Subjects()
	for _, pattern := range s.active {
		id, err := s.Bus.Subscribe(pattern, s.deliver(pattern))
		if err != nil {
			s.unsubscribeLocked()
			rollback := s.disconnectCapabilities(ctx, s.capabilities)
			return errors.Join(err, rollback)
		}
		s.subscriptions = append(s.subscriptions, id)
	}

	s.connected = true
	s.Logger.Info("Service connected", loggingpkg.LogFields{
		"subjects":     s.active,
		"capabilities": capabilityNames(s.capabilities),
	})
	return nil
}

// Disconnect unsubscribes, runs every OnDisconnect in reverse order and
// disconnects the bus. All capability errors are returned joined. Calling
// Disconnect twice is a no-op.
func (s *Service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}

	s.unsubscribeLocked()
	err := s.disconnectCapabilities(ctx, s.capabilities)
	err = errors.Join(err, s.Bus.Disconnect(ctx))
	s.connected = false
	s.Logger.Info("Service disconnected", nil)
	return err
}

func (s *Service) disconnectCapabilities(ctx context.Context, caps []Capability) error {
	var errs []error
	for i := len(caps) - 1; i >= 0; i-- {
		if err := caps[i].OnDisconnect(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", caps[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) unsubscribeLocked() {
	for _, id := range s.subscriptions {
		s.Bus.Unsubscribe(id)
	}
	s.subscriptions = nil
	s.active = nil
}

// deliver returns the callback for one subscribed pattern. A subject that
// matches several service patterns is handled once, by the first of them.
func (s *Service) deliver(pattern string) bus.Callback {
	active := s.active
	return func(ctx context.Context, env bus.Envelope) error {
		if first := firstMatch(active, env.Subject); first != pattern {
			return nil
		}
		return s.dispatch(ctx, env)
	}
}

func firstMatch(patterns []string, subj string) string {
	for _, p := range patterns {
		if subject.Matches(subj, p) {
			return p
		}
	}
	return ""
}

// dispatch hands env to every capability in order. One failing capability
// does not stop the others.
func (s *Service) dispatch(ctx context.Context, env bus.Envelope) error {
	var errs []error
	for _, c := range s.capabilities {
		if err := c.OnMessage(ctx, s, env); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func capabilityNames(caps []Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name()
	}
	return names
}
