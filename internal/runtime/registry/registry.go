// Package registry owns the set of live subscriptions for a bus. A Registry is
// a plain value owned by whoever constructs it; two buses only see each other's
// traffic when they are handed the same Registry.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	idspkg "github.com/drblury/sparked/internal/runtime/ids"
	"github.com/drblury/sparked/internal/runtime/subject"
)

// Envelope is what a subscriber receives for every delivery.
type Envelope struct {
	// Message is the published payload. It is shared with every subscriber
	// of the same publish and must be treated as read-only.
	Message any
	// ReplyTo is set only for request-style publishes.
	ReplyTo string
	// Subject is the concrete subject the message was published to.
	Subject string
}

// Callback handles one delivery. A returned error is reported to the bus's
// error hook; it never stops delivery to other subscribers.
type Callback func(ctx context.Context, env Envelope) error

// Subscription is a registered (pattern, callback) pair.
type Subscription struct {
	ID       string
	Pattern  string
	Callback Callback

	tokens []string
	seq    uint64
}

// Info describes a subscription without exposing its callback.
type Info struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Subscription
	seq  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Subscription)}
}

// Add registers cb under pattern and returns the new subscription id.
func (r *Registry) Add(pattern string, cb Callback) (string, error) {
	if cb == nil {
		return "", errspkg.ErrCallbackRequired
	}
	if err := subject.ValidatePattern(pattern); err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:       idspkg.CreateULID(),
		Pattern:  pattern,
		Callback: cb,
		tokens:   subject.Tokens(pattern),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[sub.ID]; exists {
		return "", fmt.Errorf("registry: duplicate subscription id %s", sub.ID)
	}
	r.seq++
	sub.seq = r.seq
	r.byID[sub.ID] = sub
	return sub.ID, nil
}

// Remove drops the subscription. Unknown ids are ignored; the return value
// reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	return true
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Match returns a snapshot of every subscription whose pattern matches the
// subject, oldest registration first. Callers may add or remove
// subscriptions while iterating the result.
func (r *Registry) Match(subj string) []Subscription {
	tokens := subject.Tokens(subj)
	if len(tokens) == 0 {
		return nil
	}

	r.mu.RLock()
	var matched []Subscription
	for _, sub := range r.byID {
		if subject.MatchTokens(tokens, sub.tokens) {
			matched = append(matched, *sub)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	return matched
}

// CallbacksFor returns the callbacks of every matching subscription.
func (r *Registry) CallbacksFor(subj string) []Callback {
	subs := r.Match(subj)
	if len(subs) == 0 {
		return nil
	}
	callbacks := make([]Callback, len(subs))
	for i, sub := range subs {
		callbacks[i] = sub.Callback
	}
	return callbacks
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List describes every live subscription in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.byID))
	for _, sub := range r.byID {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	infos := make([]Info, len(subs))
	for i, sub := range subs {
		infos[i] = Info{ID: sub.ID, Pattern: sub.Pattern}
	}
	return infos
}
