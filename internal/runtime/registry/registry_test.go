package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
)

func noop(context.Context, Envelope) error { return nil }

func TestAddAndMatch(t *testing.T) {
	reg := New()

	first, err := reg.Add("a.*.c", noop)
	require.NoError(t, err)
	second, err := reg.Add("a.>", noop)
	require.NoError(t, err)
	_, err = reg.Add("b.>", noop)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 3, reg.Count())

	matched := reg.Match("a.x.c")
	require.Len(t, matched, 2)
	assert.Equal(t, first, matched[0].ID)
	assert.Equal(t, second, matched[1].ID)

	assert.Empty(t, reg.Match("c.x"))
	assert.Empty(t, reg.Match(""))
	assert.Len(t, reg.CallbacksFor("a.y"), 1)
}

func TestAddRejectsInvalidInput(t *testing.T) {
	reg := New()

	_, err := reg.Add("a.>.b", noop)
	assert.ErrorIs(t, err, errspkg.ErrInvalidPattern)

	_, err = reg.Add("a", nil)
	assert.ErrorIs(t, err, errspkg.ErrCallbackRequired)

	assert.Zero(t, reg.Count())
}

func TestRemove(t *testing.T) {
	reg := New()
	id, err := reg.Add("x", noop)
	require.NoError(t, err)

	assert.True(t, reg.Has(id))
	assert.True(t, reg.Remove(id))
	assert.False(t, reg.Remove(id))
	assert.False(t, reg.Remove("unknown"))
	assert.False(t, reg.Has(id))
	assert.Empty(t, reg.Match("x"))
}

func TestMatchReturnsSnapshot(t *testing.T) {
	reg := New()
	id, err := reg.Add("x", noop)
	require.NoError(t, err)

	snapshot := reg.Match("x")
	reg.Remove(id)
	_, err = reg.Add("x", noop)
	require.NoError(t, err)

	require.Len(t, snapshot, 1)
	assert.Equal(t, id, snapshot[0].ID)
}

func TestList(t *testing.T) {
	reg := New()
	a, _ := reg.Add("a", noop)
	b, _ := reg.Add("b.*", noop)

	assert.Equal(t, []Info{{ID: a, Pattern: "a"}, {ID: b, Pattern: "b.*"}}, reg.List())
}

func TestConcurrentAccess(t *testing.T) {
	reg := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := reg.Add("load.*", noop)
				if err != nil {
					t.Error(err)
					return
				}
				reg.Match("load.test")
				reg.Remove(id)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, reg.Count())
}
