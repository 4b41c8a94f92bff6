package counterbalance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/shelf/internal/store"
	"github.com/dreamware/shelf/internal/telemetry"
)

// repsKey is the bookkeeping key inside an entry holding the remaining
// repetition count. Keys with this prefix are hidden from Data.
const (
	repsKey         = "_reps"
	protectedPrefix = "_"
)

// Condition describes one counterbalancing group: its name, the number of
// participants it can hold, and arbitrary per-group parameters handed back
// to the experiment when the group is chosen.
type Condition struct {
	Group  string
	Cap    int
	Params map[string]any

	// Remaining mirrors the group's remaining slot count on the shelf.
	// Refreshed after construction and after every AllocateGroup call.
	Remaining int
}

// Counterbalancer assigns participants to groups from a shelf entry and
// tracks how many previous participants went into each group. On top of the
// raw allocator it adds repetitions: when every group's slots hit zero and
// repetitions remain, the slots refill and the repetition counter drops by
// one. Only when slots and repetitions are both spent is the entry finished.
type Counterbalancer struct {
	alloc      *Allocator
	st         store.Store
	entry      string
	conditions []Condition
	nReps      int
	log        *zap.Logger

	group  string // most recently chosen group, "" before first allocation
	chosen bool   // whether group holds a real assignment
	params map[string]any
	reps   int
}

// NewCounterbalancer creates a counterbalancer over the named shelf entry.
// The entry is created on first use, seeded with each condition's capacity
// and the repetition count. nReps values below 1 are treated as 1. A nil
// logger disables logging.
func NewCounterbalancer(ctx context.Context, alloc *Allocator, entry string, conditions []Condition, nReps int, log *zap.Logger) (*Counterbalancer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if nReps < 1 {
		nReps = 1
	}

	c := &Counterbalancer{
		alloc:      alloc,
		st:         alloc.store,
		entry:      entry,
		conditions: conditions,
		nReps:      nReps,
		log:        log,
		params:     map[string]any{},
	}

	ok, err := c.st.Contains(ctx, entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := c.makeNewEntry(ctx); err != nil {
			return nil, err
		}
	}

	reps, err := c.loadReps(ctx)
	if err != nil {
		return nil, err
	}
	c.reps = reps

	if err := c.updateRemaining(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Entry returns the shelf entry name this counterbalancer draws from.
func (c *Counterbalancer) Entry() string { return c.entry }

// Conditions returns the condition rows, including their refreshed
// Remaining counts.
func (c *Counterbalancer) Conditions() []Condition { return c.conditions }

// Group returns the most recently chosen group and whether one was chosen.
func (c *Counterbalancer) Group() (string, bool) { return c.group, c.chosen }

// Params returns the parameter row of the most recently chosen group, with
// group and cap stripped out. After a finished entry declines an
// allocation, every parameter maps to nil.
func (c *Counterbalancer) Params() map[string]any { return c.params }

// Reps returns the number of repetitions remaining for this entry.
func (c *Counterbalancer) Reps() int { return c.reps }

// Data returns the user-visible slot counts for this entry: group name to
// remaining slots, with protected bookkeeping keys filtered out. The map is
// a copy; mutating it does not touch the shelf.
func (c *Counterbalancer) Data(ctx context.Context) (map[string]int, error) {
	ok, err := c.st.Contains(ctx, c.entry)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := c.makeNewEntry(ctx); err != nil {
			return nil, err
		}
	}

	raw := map[string]int{}
	if err := c.st.Get(ctx, c.entry, &raw); err != nil {
		return nil, err
	}
	data := make(map[string]int, len(raw))
	for key, val := range raw {
		if strings.HasPrefix(key, protectedPrefix) {
			continue
		}
		data[key] = val
	}
	return data, nil
}

// Depleted reports whether every group's slot count is at or below zero.
func (c *Counterbalancer) Depleted(ctx context.Context) (bool, error) {
	data, err := c.Data(ctx)
	if err != nil {
		return false, err
	}
	for _, val := range data {
		if val > 0 {
			return false, nil
		}
	}
	return true, nil
}

// Finished reports whether the entry is depleted with no repetitions left.
func (c *Counterbalancer) Finished(ctx context.Context) (bool, error) {
	depleted, err := c.Depleted(ctx)
	if err != nil {
		return false, err
	}
	return depleted && c.reps <= 1, nil
}

// Remaining returns the slot count left for the currently chosen group, or
// false when no group has been chosen yet.
func (c *Counterbalancer) Remaining(ctx context.Context) (int, bool, error) {
	if !c.chosen {
		return 0, false, nil
	}
	data, err := c.Data(ctx)
	if err != nil {
		return 0, false, err
	}
	return data[c.group], true, nil
}

// AllocateGroup retrieves a group assignment from the shelf and decrements
// that group's slot counter. When the entry is depleted but repetitions
// remain, slots refill first and the repetition counter drops. When the
// entry is finished, it logs a warning, clears the assignment, and returns
// ok=false with a nil error.
func (c *Counterbalancer) AllocateGroup(ctx context.Context) (group string, ok bool, err error) {
	finished, err := c.Finished(ctx)
	if err != nil {
		return "", false, err
	}
	if finished {
		c.log.Warn("all groups in shelf entry are finished with no repetitions remaining",
			zap.String("entry", c.entry))

		c.group = ""
		c.chosen = false
		c.params = map[string]any{"group": nil}
		if len(c.conditions) > 0 {
			c.params = map[string]any{}
			for key := range c.conditions[0].Params {
				c.params[key] = nil
			}
		}
		return "", false, nil
	}

	depleted, err := c.Depleted(ctx)
	if err != nil {
		return "", false, err
	}
	if depleted {
		// Slots spent but repetitions remain: refill before choosing.
		if err := c.resetSlots(ctx); err != nil {
			return "", false, err
		}
		if err := c.setReps(ctx, c.reps-1); err != nil {
			return "", false, err
		}
		telemetry.RecordSlotRefill()
	}

	groups := make([]string, len(c.conditions))
	sizes := make([]int, len(c.conditions))
	for i, row := range c.conditions {
		groups[i] = row.Group
		sizes[i] = row.Cap
	}

	chosen, _, err := c.alloc.Allocate(ctx, c.entry, groups, sizes)
	if err != nil {
		return "", false, err
	}
	c.group = chosen
	c.chosen = chosen != ""

	c.params = map[string]any{}
	for _, row := range c.conditions {
		if row.Group == chosen {
			for key, val := range row.Params {
				c.params[key] = val
			}
		}
	}

	if err := c.updateRemaining(ctx); err != nil {
		return "", false, err
	}

	c.log.Debug("allocated counterbalance group",
		zap.String("entry", c.entry),
		zap.String("group", c.group),
		zap.Int("reps_remaining", c.reps))
	return c.group, c.chosen, nil
}

// makeNewEntry seeds the entry with the repetition counter and every
// condition's full capacity.
func (c *Counterbalancer) makeNewEntry(ctx context.Context) error {
	if err := c.st.Set(ctx, c.entry, map[string]int{repsKey: c.nReps}); err != nil {
		return err
	}
	return c.resetSlots(ctx)
}

// resetSlots restores every condition group to its full capacity, leaving
// bookkeeping keys alone.
func (c *Counterbalancer) resetSlots(ctx context.Context) error {
	return c.st.Update(ctx, c.entry, func(cur json.RawMessage, exists bool) (any, error) {
		entry := map[string]int{}
		if exists {
			if err := json.Unmarshal(cur, &entry); err != nil {
				return nil, fmt.Errorf("decode entry %q: %w", c.entry, err)
			}
		}
		for _, row := range c.conditions {
			entry[row.Group] = row.Cap
		}
		return entry, nil
	})
}

// loadReps reads the repetition counter from the entry, defaulting to nReps
// for entries created before repetitions existed.
func (c *Counterbalancer) loadReps(ctx context.Context) (int, error) {
	entry := map[string]int{}
	if err := c.st.Get(ctx, c.entry, &entry); err != nil {
		return 0, err
	}
	if reps, ok := entry[repsKey]; ok {
		return reps, nil
	}
	return c.nReps, nil
}

// setReps persists the repetition counter inside the entry.
func (c *Counterbalancer) setReps(ctx context.Context, reps int) error {
	err := c.st.Update(ctx, c.entry, func(cur json.RawMessage, exists bool) (any, error) {
		entry := map[string]int{}
		if exists {
			if err := json.Unmarshal(cur, &entry); err != nil {
				return nil, fmt.Errorf("decode entry %q: %w", c.entry, err)
			}
		}
		entry[repsKey] = reps
		return entry, nil
	})
	if err != nil {
		return err
	}
	c.reps = reps
	return nil
}

// updateRemaining refreshes each condition row's Remaining count from the
// shelf.
func (c *Counterbalancer) updateRemaining(ctx context.Context) error {
	data, err := c.Data(ctx)
	if err != nil {
		return err
	}
	for i := range c.conditions {
		c.conditions[i].Remaining = data[c.conditions[i].Group]
	}
	return nil
}
