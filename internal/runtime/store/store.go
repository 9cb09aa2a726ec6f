// Package store holds per-model document collections and the CRUD operations
// the dispatch router exposes over the bus.
package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/mutation"
)

// IDField is the key holding the system-assigned document id.
const IDField = "id"

// Document is an opaque field mapping plus the id assigned on creation.
type Document = map[string]any

// Options carries the optional arguments shared by every operation.
type Options struct {
	// Projection is accepted and passed through untouched; field selection is
	// not applied.
	Projection map[string]any `json:"projection,omitempty"`
	// Limit caps how many matching documents an operation acts on. Zero means
	// no cap.
	Limit int `json:"limit,omitempty"`
}

// Store is the contract the dispatch router needs. Every method returns
// copies; callers may keep or mutate the results freely.
type Store interface {
	Create(ctx context.Context, model string, docs []Document, opts Options) ([]Document, error)
	Find(ctx context.Context, model string, conditions Document, opts Options) ([]Document, error)
	Delete(ctx context.Context, model string, conditions Document, opts Options) ([]Document, error)
	Update(ctx context.Context, model string, conditions Document, updates mutation.Spec, opts Options) ([]Document, error)
	Models() []string
}

// NormalizeModel is the case-folding applied to every model name.
func NormalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}

type collection struct {
	// mu spans find, mutate and persist for a single operation.
	mu     sync.Mutex
	docs   []Document
	nextID int64
}

// Memory is the in-process Store.
type Memory struct {
	collections map[string]*collection

	mu        sync.RWMutex
	connected bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates one empty collection per model. Model names are case
// folded; empty or duplicate names are rejected.
func NewMemory(models ...string) (*Memory, error) {
	if len(models) == 0 {
		return nil, errspkg.ErrModelRequired
	}
	collections := make(map[string]*collection, len(models))
	for _, model := range models {
		name := NormalizeModel(model)
		if name == "" {
			return nil, errspkg.ErrModelRequired
		}
		if strings.Contains(name, ".") || strings.ContainsAny(name, "*>") {
			return nil, fmt.Errorf("%w: model %q must be a single subject token", errspkg.ErrInvalidSubject, model)
		}
		if _, exists := collections[name]; exists {
			return nil, fmt.Errorf("%w: %q", errspkg.ErrDuplicateModel, model)
		}
		collections[name] = &collection{nextID: 1}
	}
	return &Memory{collections: collections}, nil
}

// Connect and Disconnect toggle a flag and are idempotent. Operations do not
// require a connected store.
func (m *Memory) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Memory) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Memory) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Models returns the normalized model names, sorted.
func (m *Memory) Models() []string {
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) collection(ctx context.Context, model string) (*collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := m.collections[NormalizeModel(model)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownModel, model)
	}
	return c, nil
}

// Create inserts every document with the next id of its collection and
// returns the stored copies.
func (m *Memory) Create(ctx context.Context, model string, docs []Document, opts Options) ([]Document, error) {
	c, err := m.collection(ctx, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	created := make([]Document, 0, len(docs))
	for _, doc := range docs {
		stored := cloneDocument(doc)
		stored[IDField] = c.nextID
		c.nextID++
		c.docs = append(c.docs, stored)
		created = append(created, cloneDocument(stored))
	}
	return created, nil
}

// Find returns every document whose fields equal all conditions.
func (m *Memory) Find(ctx context.Context, model string, conditions Document, opts Options) ([]Document, error) {
	c, err := m.collection(ctx, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	found := make([]Document, 0)
	for _, i := range c.match(conditions, opts.Limit) {
		found = append(found, cloneDocument(c.docs[i]))
	}
	return found, nil
}

// Delete removes the matching documents and returns them.
func (m *Memory) Delete(ctx context.Context, model string, conditions Document, opts Options) ([]Document, error) {
	c, err := m.collection(ctx, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched := c.match(conditions, opts.Limit)
	removed := make([]Document, 0, len(matched))
	drop := make(map[int]struct{}, len(matched))
	for _, i := range matched {
		removed = append(removed, c.docs[i])
		drop[i] = struct{}{}
	}

	kept := c.docs[:0:0]
	for i, doc := range c.docs {
		if _, ok := drop[i]; !ok {
			kept = append(kept, doc)
		}
	}
	c.docs = kept
	return removed, nil
}

// Update applies updates to every matching document and returns the
// updated copies. The id field cannot be changed by an update.
func (m *Memory) Update(ctx context.Context, model string, conditions Document, updates mutation.Spec, opts Options) ([]Document, error) {
	c, err := m.collection(ctx, model)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched := c.match(conditions, opts.Limit)
	updated := make([]Document, 0, len(matched))
	for _, i := range matched {
		doc := cloneDocument(c.docs[i])
		id := doc[IDField]
		updates.Apply(doc)
		doc[IDField] = id
		// operands are placed into doc as given
		stored := cloneDocument(doc)
		c.docs[i] = stored
		updated = append(updated, cloneDocument(stored))
	}
	return updated, nil
}

// match returns the indexes of matching documents in insertion order. The
// caller holds c.mu.
func (c *collection) match(conditions Document, limit int) []int {
	var out []int
	for i, doc := range c.docs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if Matches(doc, conditions) {
			out = append(out, i)
		}
	}
	return out
}

// Matches reports whether doc satisfies the conjunctive equality filter. A
// nil condition value also matches an absent field.
func Matches(doc, conditions Document) bool {
	for field, want := range conditions {
		got, ok := doc[field]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !mutation.Equal(got, want) {
			return false
		}
	}
	return true
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies maps and slices of any element type. Other values
// are returned as is.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneDocument(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case nil:
		return nil
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneReflect(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	default:
		return v
	}
}
