package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/mutation"
)

func newTestStore(t *testing.T, models ...string) *Memory {
	t.Helper()
	if len(models) == 0 {
		models = []string{"Test"}
	}
	s, err := NewMemory(models...)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Memory, docs ...Document) {
	t.Helper()
	_, err := s.Create(context.Background(), "test", docs, Options{})
	require.NoError(t, err)
}

func update(t *testing.T, s *Memory, conditions Document, raw map[string]any) []Document {
	t.Helper()
	spec, err := mutation.Parse(raw)
	require.NoError(t, err)
	docs, err := s.Update(context.Background(), "test", conditions, spec, Options{})
	require.NoError(t, err)
	return docs
}

func TestNewMemoryValidation(t *testing.T) {
	_, err := NewMemory()
	assert.ErrorIs(t, err, errspkg.ErrModelRequired)

	_, err = NewMemory("a", " ")
	assert.ErrorIs(t, err, errspkg.ErrModelRequired)

	_, err = NewMemory("Orders", "orders")
	assert.ErrorIs(t, err, errspkg.ErrDuplicateModel)

	_, err = NewMemory("a.b")
	assert.ErrorIs(t, err, errspkg.ErrInvalidSubject)

	s := newTestStore(t, "Users", "Orders")
	assert.Equal(t, []string{"orders", "users"}, s.Models())
}

func TestCreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "Test", []Document{{"foo": 1}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Document{{"foo": 1, "id": int64(1)}}, created)

	found, err := s.Find(ctx, "Test", Document{"foo": 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Document{{"foo": 1, "id": int64(1)}}, found)

	none, err := s.Find(ctx, "test", Document{"foo": 2}, Options{})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestIDsAreNeverReused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, Document{"n": 1}, Document{"n": 2})

	_, err := s.Delete(ctx, "test", Document{"n": 2}, Options{})
	require.NoError(t, err)

	created, err := s.Create(ctx, "test", []Document{{"n": 3}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), created[0]["id"])
}

func TestUnknownModel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Find(context.Background(), "missing", nil, Options{})
	assert.ErrorIs(t, err, errspkg.ErrUnknownModel)
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Create(ctx, "test", []Document{{"a": 1}}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	s := newTestStore(t)
	input := Document{"tags": []any{"a"}}
	created, err := s.Create(context.Background(), "test", []Document{input}, Options{})
	require.NoError(t, err)

	input["tags"].([]any)[0] = "mutated"
	created[0]["tags"] = "gone"

	found, err := s.Find(context.Background(), "test", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, found[0]["tags"])
	_, hasID := input["id"]
	assert.False(t, hasID)
}

func TestTypedValuesAreCopied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tags := []int{1, 2}
	counts := map[string]int{"a": 1}
	_, err := s.Create(ctx, "test", []Document{{"tags": tags, "counts": counts}}, Options{})
	require.NoError(t, err)

	tags[0] = 99
	counts["a"] = 99

	found, err := s.Find(ctx, "test", nil, Options{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, []int{1, 2}, found[0]["tags"])
	assert.Equal(t, map[string]int{"a": 1}, found[0]["counts"])

	found[0]["tags"].([]int)[1] = 77
	found[0]["counts"].(map[string]int)["b"] = 2

	again, err := s.Find(ctx, "test", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, again[0]["tags"])
	assert.Equal(t, map[string]int{"a": 1}, again[0]["counts"])
}

func TestUpdateDoesNotAliasOperands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, Document{"foo": 1})

	profile := map[string]any{"name": "ada", "langs": []string{"go"}}
	updated := update(t, s, nil, map[string]any{"$set": map[string]any{"profile": profile}})
	require.Len(t, updated, 1)

	profile["name"] = "grace"
	profile["langs"].([]string)[0] = "cobol"
	updated[0]["profile"].(map[string]any)["name"] = "linus"

	found, err := s.Find(ctx, "test", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "langs": []string{"go"}}, found[0]["profile"])
}

func TestDeleteRemovesFromSubsequentFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, Document{"foo": 1, "bar": 1}, Document{"foo": 2, "bar": 1}, Document{"foo": 0, "bar": 0})

	removed, err := s.Delete(ctx, "test", Document{"bar": 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Document{
		{"foo": 1, "bar": 1, "id": int64(1)},
		{"foo": 2, "bar": 1, "id": int64(2)},
	}, removed)

	found, err := s.Find(ctx, "test", Document{"bar": 1}, Options{})
	require.NoError(t, err)
	assert.Empty(t, found)

	rest, err := s.Find(ctx, "test", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Document{{"foo": 0, "bar": 0, "id": int64(3)}}, rest)
}

func TestUpdateOperators(t *testing.T) {
	seeded := []Document{{"foo": 1, "bar": 1}, {"foo": 2, "bar": 1}, {"foo": 0, "bar": 0}}

	t.Run("$inc", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, seeded...)
		got := update(t, s, Document{"bar": 1}, map[string]any{"$inc": map[string]any{"foo": 10}})
		assert.Equal(t, []Document{
			{"foo": 11, "bar": 1, "id": int64(1)},
			{"foo": 12, "bar": 1, "id": int64(2)},
		}, got)
	})

	t.Run("$mul", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, seeded...)
		got := update(t, s, Document{"bar": 1}, map[string]any{"$mul": map[string]any{"foo": 10}})
		assert.Equal(t, []Document{
			{"foo": 10, "bar": 1, "id": int64(1)},
			{"foo": 20, "bar": 1, "id": int64(2)},
		}, got)
	})

	t.Run("$set adds missing field", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"bar": 1})
		got := update(t, s, Document{"bar": 1}, map[string]any{"$set": map[string]any{"foo": "x"}})
		assert.Equal(t, []Document{{"foo": "x", "bar": 1, "id": int64(1)}}, got)
	})

	t.Run("$unset", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": 1})
		got := update(t, s, nil, map[string]any{"$unset": map[string]any{"foo": ""}})
		assert.Equal(t, []Document{{"foo": nil, "id": int64(1)}}, got)
	})

	t.Run("$pull", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": []any{1, 2, 2}}, Document{"foo": []any{1, 3}}, Document{"foo": 0})
		got := update(t, s, nil, map[string]any{"$pull": map[string]any{"foo": 2}})
		assert.Equal(t, []Document{
			{"foo": []any{1}, "id": int64(1)},
			{"foo": []any{1, 3}, "id": int64(2)},
			{"foo": 0, "id": int64(3)},
		}, got)
	})

	t.Run("$pull $in", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": []any{1, 3}})
		got := update(t, s, nil, map[string]any{"$pull": map[string]any{"foo": map[string]any{"$in": []any{1, 3}}}})
		assert.Equal(t, []Document{{"foo": []any{}, "id": int64(1)}}, got)
	})

	t.Run("$push", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": []any{1, 2}}, Document{"foo": 0})
		got := update(t, s, nil, map[string]any{"$push": map[string]any{"foo": 3}})
		assert.Equal(t, []Document{
			{"foo": []any{1, 2, 3}, "id": int64(1)},
			{"foo": 0, "id": int64(2)},
		}, got)
	})

	t.Run("updates persist", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": 1})
		update(t, s, nil, map[string]any{"$inc": map[string]any{"foo": 1}})
		found, err := s.Find(context.Background(), "test", Document{"foo": 2}, Options{})
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("id cannot be changed", func(t *testing.T) {
		s := newTestStore(t)
		seed(t, s, Document{"foo": 1})
		got := update(t, s, nil, map[string]any{"$set": map[string]any{"id": 99}})
		assert.Equal(t, int64(1), got[0]["id"])
	})
}

func TestLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, Document{"k": 1}, Document{"k": 1}, Document{"k": 1})

	found, err := s.Find(ctx, "test", Document{"k": 1}, Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	removed, err := s.Delete(ctx, "test", Document{"k": 1}, Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, int64(1), removed[0]["id"])

	rest, err := s.Find(ctx, "test", nil, Options{})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestMatches(t *testing.T) {
	doc := Document{"a": 1, "b": "x"}
	assert.True(t, Matches(doc, nil))
	assert.True(t, Matches(doc, Document{"a": 1.0}))
	assert.True(t, Matches(doc, Document{"a": 1, "b": "x"}))
	assert.False(t, Matches(doc, Document{"a": 1, "b": "y"}))
	assert.False(t, Matches(doc, Document{"c": 1}))
	assert.True(t, Matches(doc, Document{"c": nil}))
}

func TestConcurrentIncrements(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, Document{"n": 0})
	spec := mutation.Spec{{Operator: mutation.Inc, Fields: map[string]any{"n": 1}}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(context.Background(), "test", nil, spec, Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	found, err := s.Find(context.Background(), "test", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 20, found[0]["n"])
}

func TestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.Connected())
	require.NoError(t, s.Disconnect(ctx))
	assert.False(t, s.Connected())
}
