package dispatch

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
)

// DispatchContext describes one routed action to hooks.
type DispatchContext struct {
	// Subject is the command subject that was received.
	Subject string
	// Route is the decoded subject.
	Route Route
	// ReplyTo is empty for fire-and-forget commands.
	ReplyTo string
	// Context is the context the action ran under.
	Context context.Context
	// StartedAt is when the router picked the message up.
	StartedAt time.Time
	// Duration is only set in OnDispatchDone and OnDispatchError.
	Duration time.Duration
}

// Hooks observe the router. All hooks are optional.
type Hooks struct {
	// OnDispatchStart runs before the store or controller is invoked.
	OnDispatchStart func(ctx DispatchContext)

	// OnDispatchDone runs after the reply and the domain event were published.
	OnDispatchDone func(ctx DispatchContext)

	// OnDispatchError runs when decoding, the store or a controller failed,
	// and for commands with an unknown action.
	OnDispatchError func(ctx DispatchContext, err error)
}

// Merge returns hooks that call h first and other second.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnDispatchStart: chain(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chain(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainError(h.OnDispatchError, other.OnDispatchError),
	}
}

func chain(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainError(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks logs completions at debug level and failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	fields := func(ctx DispatchContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"subject":     ctx.Subject,
			"model":       ctx.Route.Model,
			"action":      ctx.Route.Action.String(),
			"duration_ms": ctx.Duration.Milliseconds(),
		}
	}
	return Hooks{
		OnDispatchDone: func(ctx DispatchContext) {
			logger.Debug("Dispatch completed", fields(ctx))
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			logger.Error("Dispatch failed", err, fields(ctx))
		},
	}
}

// MetricsHooks records every dispatch outcome on m.
func MetricsHooks(m *metrics.Metrics) Hooks {
	return Hooks{
		OnDispatchDone: func(ctx DispatchContext) {
			m.RecordDispatch(ctx.Route.Model, ctx.Route.Action.String(), metrics.OutcomeSuccess, ctx.Duration)
		},
		OnDispatchError: func(ctx DispatchContext, err error) {
			m.RecordDispatch(ctx.Route.Model, ctx.Route.Action.String(), metrics.OutcomeError, ctx.Duration)
		},
	}
}
