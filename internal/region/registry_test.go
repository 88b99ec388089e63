package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefir/liveregion/diff"
	"github.com/livefir/liveregion/internal/memory"
	"github.com/livefir/liveregion/internal/store"
)

type renderFunc func(templatePath string, state interface{}) (string, error)

func (f renderFunc) Render(templatePath string, state interface{}) (string, error) {
	return f(templatePath, state)
}

// counterRenderer renders {"count": n} as <span>n</span> and fails on negative counts
var counterRenderer = renderFunc(func(templatePath string, state interface{}) (string, error) {
	m, _ := state.(map[string]interface{})
	n, _ := m["count"].(float64)
	if n < 0 {
		return "", errors.New("negative count")
	}
	return fmt.Sprintf("<span>%d</span>", int(n)), nil
})

func TestHash(t *testing.T) {
	assert.Len(t, Hash("a"), 64)
	assert.Equal(t, Hash("Count: 0"), Hash("Count: 0"))
	assert.NotEqual(t, Hash("Count: 0"), Hash("Count: 1"))
	// BLAKE2b-256 of the empty string
	assert.Equal(t, "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8", Hash(""))
}

func TestRegistry_RegisterGetList(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry("s1", store.NewMemoryStore(), counterRenderer)

	a, err := reg.Register(ctx, "counter", map[string]int{"count": 0})
	require.NoError(t, err)
	assert.Equal(t, "<span>0</span>", a.Source)
	assert.Equal(t, Hash(a.Source), a.Hash)
	assert.Equal(t, int64(1), a.Version)
	assert.NotEmpty(t, a.RegionID)

	b, err := reg.Register(ctx, "counter", map[string]int{"count": 5})
	require.NoError(t, err)
	assert.NotEqual(t, a.RegionID, b.RegionID)

	got, err := reg.Get(ctx, a.RegionID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = reg.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownRegion)
}

func TestRegistry_Update(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry("s1", store.NewMemoryStore(), counterRenderer)
	snap, err := reg.Register(ctx, "counter", map[string]int{"count": 0})
	require.NoError(t, err)

	change, err := reg.Update(ctx, snap.RegionID, snap.Version, map[string]int{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, "<span>0</span>", change.Prior.Source)
	assert.Equal(t, "<span>1</span>", change.Next.Source)
	assert.Equal(t, Hash("<span>1</span>"), change.Next.Hash)
	assert.JSONEq(t, `{"count":1}`, string(change.Next.State))

	// the caller observed version 1 but the region is now at 2
	_, err = reg.Update(ctx, snap.RegionID, snap.Version, map[string]int{"count": 7})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = reg.Update(ctx, "nope", 1, nil)
	assert.ErrorIs(t, err, ErrUnknownRegion)
}

func TestRegistry_RenderFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry("s1", store.NewMemoryStore(), counterRenderer)
	snap, err := reg.Register(ctx, "counter", map[string]int{"count": 3})
	require.NoError(t, err)

	_, err = reg.Update(ctx, snap.RegionID, snap.Version, map[string]int{"count": -1})
	assert.ErrorIs(t, err, ErrRender)

	got, err := reg.Get(ctx, snap.RegionID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	_, err = reg.Register(ctx, "counter", map[string]int{"count": -1})
	assert.ErrorIs(t, err, ErrRender)
}

func TestRegistry_MutateSerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry("s1", store.NewMemoryStore(), counterRenderer, WithMaxRetries(100))
	snap, err := reg.Register(ctx, "counter", map[string]int{"count": 0})
	require.NoError(t, err)

	increment := func(state json.RawMessage) (interface{}, error) {
		var s struct{ Count int }
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, err
		}
		return map[string]int{"count": s.Count + 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Mutate(ctx, snap.RegionID, increment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := reg.Get(ctx, snap.RegionID)
	require.NoError(t, err)
	assert.Equal(t, "<span>10</span>", got.Source)
	assert.Equal(t, int64(11), got.Version)
}

func TestRegistry_BudgetAndDrop(t *testing.T) {
	ctx := context.Background()
	budget := memory.NewManager(&memory.Config{MaxSessionKB: 1})
	st := store.NewMemoryStore()
	reg := NewRegistry("s1", st, renderFunc(func(_ string, state interface{}) (string, error) {
		m := state.(map[string]interface{})
		return m["body"].(string), nil
	}), WithBudget(budget))

	small, err := reg.Register(ctx, "page", map[string]string{"body": "hello"})
	require.NoError(t, err)
	assert.Positive(t, budget.SessionUsage("s1"))

	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	_, err = reg.Update(ctx, small.RegionID, small.Version, map[string]string{"body": string(big)})
	assert.ErrorIs(t, err, memory.ErrBudgetExceeded)

	got, err := reg.Get(ctx, small.RegionID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Source)

	require.NoError(t, reg.Drop(ctx))
	assert.Equal(t, int64(0), budget.SessionUsage("s1"))
	_, err = reg.Get(ctx, small.RegionID)
	assert.ErrorIs(t, err, ErrUnknownRegion)
}

// failingInsert rejects every new region
type failingInsert struct{ store.Store }

func (failingInsert) Insert(context.Context, store.Record) (store.Record, error) {
	return store.Record{}, errors.New("disk full")
}

func TestRegistry_FailedWritesGiveBackBudget(t *testing.T) {
	ctx := context.Background()
	budget := memory.NewManager(&memory.Config{MaxSessionKB: 1024})
	st := store.NewMemoryStore()
	reg := NewRegistry("s1", st, renderFunc(func(_ string, state interface{}) (string, error) {
		m := state.(map[string]interface{})
		return m["body"].(string), nil
	}), WithBudget(budget), WithMaxRetries(0))

	snap, err := reg.Register(ctx, "page", map[string]string{"body": "v1"})
	require.NoError(t, err)
	change, err := reg.Update(ctx, snap.RegionID, snap.Version, map[string]string{"body": "version two"})
	require.NoError(t, err)
	snap = change.Next
	before := budget.SessionUsage("s1")
	require.Positive(t, before)

	big := strings.Repeat("x", 500000)
	_, err = reg.Mutate(ctx, snap.RegionID, func(json.RawMessage) (interface{}, error) {
		// another tab commits between the read and the write
		_, err := reg.Update(ctx, snap.RegionID, snap.Version, map[string]string{"body": "other tab"})
		require.NoError(t, err)
		return map[string]string{"body": big}, nil
	})
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := reg.Get(ctx, snap.RegionID)
	require.NoError(t, err)
	assert.Equal(t, "other tab", stored.Source)
	assert.Equal(t, int64(len(stored.Source)+len(stored.State)), budget.SessionUsage("s1"))

	// the region disappears under a pending write
	_, err = reg.Mutate(ctx, snap.RegionID, func(json.RawMessage) (interface{}, error) {
		require.NoError(t, st.DeleteSession(ctx, "s1"))
		return map[string]string{"body": big}, nil
	})
	assert.ErrorIs(t, err, ErrUnknownRegion)
	assert.Equal(t, int64(0), budget.SessionUsage("s1"))

	broken := NewRegistry("s2", failingInsert{st}, reg.renderer, WithBudget(budget))
	_, err = broken.Register(ctx, "page", map[string]string{"body": big})
	assert.Error(t, err)
	assert.Equal(t, int64(0), budget.SessionUsage("s2"))
	assert.Equal(t, 0, budget.Usage().Sessions)
}

func TestRegistry_RenderReplacesInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry("s1", store.NewMemoryStore(), renderFunc(func(_ string, state interface{}) (string, error) {
		m := state.(map[string]interface{})
		return "<p>\xff" + m["tail"].(string) + "</p>", nil
	}))

	snap, err := reg.Register(ctx, "raw", map[string]string{"tail": ""})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(snap.Source))
	assert.Equal(t, "<p>�</p>", snap.Source)
	assert.Equal(t, Hash(snap.Source), snap.Hash)

	change, err := reg.Update(ctx, snap.RegionID, snap.Version, map[string]string{"tail": "!"})
	require.NoError(t, err)
	assert.Equal(t, "<p>�!</p>", change.Next.Source)

	next, err := diff.Apply(change.Prior.Source, diff.Diff(change.Prior.Source, change.Next.Source))
	require.NoError(t, err)
	assert.Equal(t, change.Next.Hash, Hash(next), "a client replaying the diff lands on the stored hash")
}
