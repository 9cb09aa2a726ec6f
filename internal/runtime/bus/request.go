package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	idspkg "github.com/drblury/sparked/internal/runtime/ids"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/subject"
)

// RequestOptions tunes a single request.
type RequestOptions struct {
	// Timeout bounds the wait for a reply. Zero means no timeout; the request
	// then only ends on a reply or on ctx cancellation.
	Timeout time.Duration
}

// ReplyCallback receives the reply envelope, or a zero envelope and an error
// when the request timed out or its context was cancelled. It is called
// exactly once.
type ReplyCallback func(env Envelope, err error)

// Request publishes message to subj with a freshly generated reply subject
// and calls cb with the first reply. The reply subscription is removed after
// the first reply, on timeout and on cancellation. The returned id is that of
// the reply subscription.
//
// cb may run before Request returns when a subscriber replies synchronously.
func (b *Bus) Request(ctx context.Context, subj string, message any, opts RequestOptions, cb ReplyCallback) (string, error) {
	if cb == nil {
		return "", errspkg.ErrCallbackRequired
	}
	if err := subject.ValidateSubject(subj); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		once sync.Once
		done = make(chan struct{})
		id   string
	)
	finish := func(env Envelope, err error, outcome string) {
		once.Do(func() {
			b.registry.Remove(id)
			close(done)
			b.metrics.RecordRequest(outcome)
			cb(env, err)
		})
	}

	inbox := idspkg.NewInbox()
	id, err := b.Subscribe(inbox, func(_ context.Context, env Envelope) error {
		finish(env, nil, metrics.OutcomeReplied)
		return nil
	})
	if err != nil {
		return "", err
	}

	if opts.Timeout > 0 || ctx.Done() != nil {
		go b.awaitExpiry(ctx, opts.Timeout, done, func(err error, outcome string) {
			finish(Envelope{Subject: inbox}, err, outcome)
		})
	}

	if err := b.Publish(ctx, subj, message, inbox); err != nil {
		b.registry.Remove(id)
		once.Do(func() { close(done) })
		return "", err
	}
	return id, nil
}

func (b *Bus) awaitExpiry(ctx context.Context, timeout time.Duration, done <-chan struct{}, expire func(error, string)) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-done:
	case <-timeoutC:
		b.logger.Debug("Request timed out", loggingpkg.LogFields{"timeout": timeout.String()})
		expire(fmt.Errorf("%w after %s", errspkg.ErrRequestTimeout, timeout), metrics.OutcomeTimeout)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			expire(fmt.Errorf("%w: %w", errspkg.ErrRequestTimeout, err), metrics.OutcomeTimeout)
			return
		}
		expire(err, metrics.OutcomeCancelled)
	}
}

// RequestSync is Request that blocks until the reply arrives, the timeout
// fires or ctx is done.
func (b *Bus) RequestSync(ctx context.Context, subj string, message any, opts RequestOptions) (Envelope, error) {
	type result struct {
		env Envelope
		err error
	}
	ch := make(chan result, 1)

	if _, err := b.Request(ctx, subj, message, opts, func(env Envelope, err error) {
		ch <- result{env: env, err: err}
	}); err != nil {
		return Envelope{}, err
	}

	r := <-ch
	return r.env, r.err
}
