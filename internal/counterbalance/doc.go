// Package counterbalance implements weighted random group assignment with
// remaining-capacity tracking on top of a shelf store.
//
// # Overview
//
// Counterbalancing keeps experimental groups balanced as participants
// arrive: each group has a capacity, each assignment consumes one slot, and
// a group with no slots left stops being offered. The state for one
// counterbalancing "slot" (an entry) is a mapping from group name to
// remaining count, persisted under a single key in a store.Store.
//
// Two layers are provided:
//
// Allocator: the raw draw. One call reads the entry, seeds any groups it
// hasn't seen, picks a candidate among groups with remaining capacity, and
// writes the decremented entry back. Selection weight comes from each
// group's share of the requested capacities, not from remaining counts, so
// two groups asked for with equal capacity stay equally likely relative to
// each other even as other groups exhaust. Exhausted groups are dropped
// from the draw and the surviving weights are rescaled.
//
// Counterbalancer: the session-facing layer. It carries condition rows
// (group, capacity, arbitrary parameters), a repetition counter that
// refills slots when every group runs dry, and accessors for the state an
// experiment cares about (Depleted, Finished, Remaining).
//
// # Persistence contract
//
// Every allocation is a single store.Update: one full read and one full
// write of the backing document, no batching. The only call that skips the
// write is a draw on a fully exhausted entry, which just reports
// exhaustion.
//
// # Error Handling
//
// InvalidCapacityError: group and capacity lists differ in length, a
// capacity is negative, or the capacities sum to zero. Zero total capacity
// is a misconfigured call, not an expected exhaustion, so it errors rather
// than reporting exhaustion.
//
// A fully exhausted entry is NOT an error: Allocate returns ("", true, nil)
// so callers can distinguish "nothing left" from "call was malformed".
package counterbalance
