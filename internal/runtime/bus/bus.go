// Package bus implements the in-process publish/subscribe engine with
// request/reply correlation.
//
// Publishing is synchronous: every matching callback runs on the publishing
// goroutine before Publish returns. A failing or panicking callback is
// reported to the error handler and never blocks delivery to the remaining
// subscribers.
package bus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/registry"
	"github.com/drblury/sparked/internal/runtime/subject"
)

type (
	Envelope = registry.Envelope
	Callback = registry.Callback
)

// ErrorHandler observes callback failures.
type ErrorHandler func(ctx context.Context, env Envelope, subscriptionID string, err error)

// CallbackPanicError is reported when a subscriber panics.
type CallbackPanicError struct {
	Value any
	Stack []byte
}

func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("sparked: callback panicked: %v", e.Value)
}

// Bus is safe for concurrent use.
type Bus struct {
	registry *registry.Registry
	logger   loggingpkg.ServiceLogger
	metrics  *metrics.Metrics
	onError  ErrorHandler

	mu        sync.RWMutex
	connected bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithRegistry backs the bus with an existing registry. Buses sharing a
// registry deliver to each other's subscribers.
func WithRegistry(reg *registry.Registry) Option {
	return func(b *Bus) {
		if reg != nil {
			b.registry = reg
		}
	}
}

func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithErrorHandler installs a hook called for every failed delivery, in
// addition to the error log line.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *Bus) { b.onError = h }
}

// New creates a bus with its own registry unless WithRegistry is given.
func New(opts ...Option) *Bus {
	b := &Bus{
		registry: registry.New(),
		logger:   loggingpkg.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry backing this bus.
func (b *Bus) Registry() *registry.Registry {
	return b.registry
}

// Connect marks the bus connected. Calling it twice is a no-op.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.connected = true
	b.logger.Debug("Bus connected", nil)
	return nil
}

// Disconnect marks the bus disconnected. Calling it twice is a no-op.
// Subscriptions are left in place.
func (b *Bus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	b.logger.Debug("Bus disconnected", nil)
	return nil
}

func (b *Bus) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Subscribe registers cb for every subject matching pattern.
func (b *Bus) Subscribe(pattern string, cb Callback) (string, error) {
	id, err := b.registry.Add(pattern, cb)
	if err != nil {
		return "", err
	}
	b.logger.Trace("Subscribed", loggingpkg.LogFields{"pattern": pattern, "subscription_id": id})
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	if b.registry.Remove(id) {
		b.logger.Trace("Unsubscribed", loggingpkg.LogFields{"subscription_id": id})
	}
}

// Publish delivers message to every subscriber whose pattern matches subj.
// replyTo may be empty. The only errors returned are for malformed subjects;
// callback failures go to the error handler.
func (b *Bus) Publish(ctx context.Context, subj string, message any, replyTo string) error {
	if err := subject.ValidateSubject(subj); err != nil {
		return err
	}
	if replyTo != "" {
		if err := subject.ValidateSubject(replyTo); err != nil {
			return fmt.Errorf("reply subject: %w", err)
		}
	}

	subs := b.registry.Match(subj)
	b.metrics.RecordPublish(subj, len(subs))
	if len(subs) == 0 {
		return nil
	}

	env := Envelope{Message: message, ReplyTo: replyTo, Subject: subj}
	for _, sub := range subs {
		if err := invoke(ctx, sub.Callback, env); err != nil {
			b.reportFailure(ctx, env, sub.ID, err)
		}
	}
	return nil
}

func invoke(ctx context.Context, cb Callback, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return cb(ctx, env)
}

func (b *Bus) reportFailure(ctx context.Context, env Envelope, subscriptionID string, err error) {
	b.metrics.RecordCallbackFailure(env.Subject)
	b.logger.Error("Subscriber callback failed", err, loggingpkg.LogFields{
		"subject":         env.Subject,
		"subscription_id": subscriptionID,
	})
	if b.onError != nil {
		b.onError(ctx, env, subscriptionID, err)
	}
}
