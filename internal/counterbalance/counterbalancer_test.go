package counterbalance

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/shelf/internal/store"
)

func testConditions() []Condition {
	return []Condition{
		{Group: "AB", Cap: 2, Params: map[string]any{"order": "A-then-B"}},
		{Group: "BA", Cap: 2, Params: map[string]any{"order": "B-then-A"}},
	}
}

func newTestCounterbalancer(t *testing.T, nReps int, log *zap.Logger) (*Counterbalancer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a := NewAllocator(st)
	a.SetRand(rand.New(rand.NewSource(21)))

	cb, err := NewCounterbalancer(context.Background(), a, "taskOrder", testConditions(), nReps, log)
	require.NoError(t, err)
	return cb, st
}

// TestNewCounterbalancerSeedsEntry verifies that construction creates the
// entry with full slots, the repetition counter, and refreshed Remaining
// counts.
func TestNewCounterbalancerSeedsEntry(t *testing.T) {
	ctx := context.Background()
	cb, st := newTestCounterbalancer(t, 3, nil)

	entry := map[string]int{}
	require.NoError(t, st.Get(ctx, "taskOrder", &entry))
	assert.Equal(t, map[string]int{"_reps": 3, "AB": 2, "BA": 2}, entry)

	assert.Equal(t, 3, cb.Reps())
	for _, row := range cb.Conditions() {
		assert.Equal(t, row.Cap, row.Remaining)
	}
}

// TestCounterbalancerDataHidesBookkeeping verifies the protected-key filter.
func TestCounterbalancerDataHidesBookkeeping(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestCounterbalancer(t, 2, nil)

	data, err := cb.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"AB": 2, "BA": 2}, data)
	assert.NotContains(t, data, "_reps")
}

// TestCounterbalancerExistingEntrySurvives verifies that a second session
// over the same entry picks up the decremented counts rather than reseeding.
func TestCounterbalancerExistingEntrySurvives(t *testing.T) {
	ctx := context.Background()
	cb, st := newTestCounterbalancer(t, 1, nil)

	_, ok, err := cb.AllocateGroup(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	a2 := NewAllocator(st)
	a2.SetRand(rand.New(rand.NewSource(22)))
	cb2, err := NewCounterbalancer(ctx, a2, "taskOrder", testConditions(), 1, nil)
	require.NoError(t, err)

	data, err := cb2.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, data["AB"]+data["BA"], "existing counts must not be reset")
}

// TestCounterbalancerAllocatesParams verifies that the chosen group's
// parameter row is surfaced with group and cap stripped.
func TestCounterbalancerAllocatesParams(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestCounterbalancer(t, 1, nil)

	group, ok, err := cb.AllocateGroup(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	want := "A-then-B"
	if group == "BA" {
		want = "B-then-A"
	}
	assert.Equal(t, map[string]any{"order": want}, cb.Params())

	remaining, chosen, err := cb.Remaining(ctx)
	require.NoError(t, err)
	assert.True(t, chosen)
	assert.Equal(t, 1, remaining)
}

// TestCounterbalancerRepsRefill verifies repetition semantics: with caps
// [2,2] and 2 reps, eight allocations succeed (slots refill once) and the
// ninth reports finished.
func TestCounterbalancerRepsRefill(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestCounterbalancer(t, 2, nil)

	for i := 0; i < 8; i++ {
		group, ok, err := cb.AllocateGroup(ctx)
		require.NoError(t, err, "allocation %d", i)
		assert.True(t, ok, "allocation %d should succeed", i)
		assert.NotEmpty(t, group)
	}
	assert.Equal(t, 1, cb.Reps(), "one repetition should have been consumed by the refill")

	finished, err := cb.Finished(ctx)
	require.NoError(t, err)
	assert.True(t, finished)

	group, ok, err := cb.AllocateGroup(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, group)
}

// TestCounterbalancerFinishedWarnsAndClears verifies the finished path: a
// warning is logged, the assignment clears, and params map to nil.
func TestCounterbalancerFinishedWarnsAndClears(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	cb, _ := newTestCounterbalancer(t, 1, zap.New(core))

	// Four draws exhaust both groups; the fifth hits the finished path.
	for i := 0; i < 5; i++ {
		_, _, err := cb.AllocateGroup(ctx)
		require.NoError(t, err)
	}

	group, ok := cb.Group()
	assert.False(t, ok)
	assert.Empty(t, group)
	assert.Equal(t, map[string]any{"order": nil}, cb.Params())

	require.GreaterOrEqual(t, logs.Len(), 1)
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "finished")
	assert.Equal(t, "taskOrder", entry.ContextMap()["entry"])
}

// TestCounterbalancerDepletedVsFinished verifies the two states diverge
// while repetitions remain.
func TestCounterbalancerDepletedVsFinished(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestCounterbalancer(t, 2, nil)

	for i := 0; i < 4; i++ {
		_, ok, err := cb.AllocateGroup(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}

	depleted, err := cb.Depleted(ctx)
	require.NoError(t, err)
	assert.True(t, depleted)

	finished, err := cb.Finished(ctx)
	require.NoError(t, err)
	assert.False(t, finished, "repetitions remain, so the entry is not finished")
}
