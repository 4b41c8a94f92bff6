package counterbalance

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dreamware/shelf/internal/store"
	"github.com/dreamware/shelf/internal/telemetry"
)

// InvalidCapacityError reports a group/capacity configuration that cannot
// produce a valid weighted draw.
type InvalidCapacityError struct {
	Detail string
}

func (e *InvalidCapacityError) Error() string {
	return "invalid capacity configuration: " + e.Detail
}

// Allocator draws weighted random group assignments from a shelf entry and
// tracks remaining capacity per group. All persistent state lives in the
// backing Store; the allocator itself carries only a random source.
type Allocator struct {
	store store.Store
	mu    sync.Mutex // protects rng
	rng   *rand.Rand
}

// NewAllocator creates an allocator over the given store with a time-seeded
// random source.
func NewAllocator(s store.Store) *Allocator {
	return &Allocator{
		store: s,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the random source. Used by tests that need deterministic
// draws.
func (a *Allocator) SetRand(r *rand.Rand) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rng = r
}

// Allocate picks one group for the entry stored under key, weighted by each
// group's share of the requested capacities, and decrements the chosen
// group's remaining count.
//
// groups and capacities must be the same length; capacities[i] is group i's
// total capacity. Groups not yet present in the entry are seeded with their
// requested capacity; groups already on file keep their current counts even
// when the requested capacity differs, so new groups can join mid-study
// without resetting existing ones.
//
// Weights derive from the requested capacities on every call, not from
// remaining counts, so relative selection probability between two groups
// stays fixed as others deplete. Groups with no remaining capacity are
// filtered out and the surviving weights are rescaled to sum to 1.
//
// Returns the chosen group and whether that group is now at zero. When no
// group has capacity left it returns ("", true, nil) without writing
// anything — total exhaustion is an expected state, not an error.
func (a *Allocator) Allocate(ctx context.Context, key string, groups []string, capacities []int) (string, bool, error) {
	if err := validate(groups, capacities); err != nil {
		return "", false, err
	}

	total := 0
	for _, c := range capacities {
		total += c
	}

	var (
		chosen   string
		finished bool
	)
	err := a.store.Update(ctx, key, func(cur json.RawMessage, exists bool) (any, error) {
		// A missing key is an empty entry, not an error.
		entry := make(map[string]int, len(groups))
		if exists {
			if err := json.Unmarshal(cur, &entry); err != nil {
				return nil, fmt.Errorf("decode entry %q: %w", key, err)
			}
		}

		options := make([]string, 0, len(groups))
		weights := make([]float64, 0, len(groups))
		for i, group := range groups {
			if _, ok := entry[group]; !ok {
				entry[group] = capacities[i]
			}
			weight := float64(capacities[i]) / float64(total)
			if entry[group] > 0 {
				options = append(options, group)
				weights = append(weights, weight)
			}
		}

		if len(options) == 0 {
			finished = true
			return nil, store.ErrNoChange
		}

		chosen = a.draw(options, weights)
		entry[chosen]--
		finished = entry[chosen] <= 0
		return entry, nil
	})
	if err != nil {
		return "", false, err
	}

	if chosen == "" {
		telemetry.RecordAllocation(true)
		return "", true, nil
	}
	telemetry.RecordAllocation(false)
	return chosen, finished, nil
}

// draw picks one option using the given weights, rescaled to sum to 1 over
// just these options. Weights must be positive and options non-empty.
func (a *Allocator) draw(options []string, weights []float64) string {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}

	a.mu.Lock()
	r := a.rng.Float64() * sum
	a.mu.Unlock()

	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return options[i]
		}
	}
	// Float rounding can leave r a hair past the final bucket.
	return options[len(options)-1]
}

func validate(groups []string, capacities []int) error {
	if len(groups) != len(capacities) {
		return &InvalidCapacityError{
			Detail: fmt.Sprintf("%d groups but %d capacities", len(groups), len(capacities)),
		}
	}
	total := 0
	for i, c := range capacities {
		if c < 0 {
			return &InvalidCapacityError{
				Detail: fmt.Sprintf("group %q has negative capacity %d", groups[i], c),
			}
		}
		total += c
	}
	if total == 0 {
		return &InvalidCapacityError{Detail: "total capacity is zero"}
	}
	return nil
}
