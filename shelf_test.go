package shelf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shelf/internal/store"
)

func TestNewExperimentScope(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sh, err := New(Options{Scope: "exp", ExperimentPath: dir})
	require.NoError(t, err)
	assert.Equal(t, "experiment", sh.Scope())
	assert.Equal(t, filepath.Join(dir, "shelf.json"), sh.Path)

	// The backing file exists with an empty document.
	raw, err := os.ReadFile(sh.Path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))

	require.NoError(t, sh.Set(ctx, "note", "hello"))

	var got string
	require.NoError(t, sh.Get(ctx, "note", &got))
	assert.Equal(t, "hello", got)
}

func TestNewParticipantScope(t *testing.T) {
	dir := t.TempDir()

	sh, err := New(Options{Scope: "p", UserDir: dir, Participant: "p001"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shelf", "p001.json"), sh.Path)
}

func TestNewRejectsBadScope(t *testing.T) {
	_, err := New(Options{Scope: "galaxy"})
	assert.Error(t, err)
}

func TestNewRequiresScopeOptions(t *testing.T) {
	_, err := New(Options{Scope: "participant"})
	assert.Error(t, err, "participant scope needs an ID")
}

func TestCounterbalanceSelectRoundTrip(t *testing.T) {
	ctx := context.Background()
	sh := Open(store.NewMemoryStore(), nil)

	groups := []string{"AB", "BA"}
	sizes := []int{1, 1}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		group, _, err := sh.CounterbalanceSelect(ctx, "taskOrder", groups, sizes)
		require.NoError(t, err)
		require.NotEmpty(t, group)
		seen[group] = true
	}
	assert.Len(t, seen, 2)

	group, finished, err := sh.CounterbalanceSelect(ctx, "taskOrder", groups, sizes)
	require.NoError(t, err)
	assert.Empty(t, group)
	assert.True(t, finished)
}

func TestCounterbalanceSelectInvalidInput(t *testing.T) {
	ctx := context.Background()
	sh := Open(store.NewMemoryStore(), nil)

	_, _, err := sh.CounterbalanceSelect(ctx, "k", []string{"A", "B"}, []int{5})
	var invalid *InvalidCapacityError
	assert.ErrorAs(t, err, &invalid)
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	sh := Open(store.NewMemoryStore(), nil)

	var out any
	err := sh.Get(ctx, "missing", &out)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestDataSnapshot(t *testing.T) {
	ctx := context.Background()
	sh := Open(store.NewMemoryStore(), nil)

	require.NoError(t, sh.Set(ctx, "a", 1))
	require.NoError(t, sh.Set(ctx, "b", map[string]int{"x": 2}))

	doc, err := sh.Data(ctx)
	require.NoError(t, err)
	assert.Len(t, doc, 2)
	assert.JSONEq(t, "1", string(doc["a"]))
	assert.JSONEq(t, `{"x":2}`, string(doc["b"]))
}
