// Package store provides the keyed JSON document storage layer for shelf
// data, with pluggable backends sharing one interface so counterbalancing
// logic never needs to know where its state lives.
//
// # Overview
//
// A shelf document is a flat mapping from string key to JSON value. The
// defining property of this layer is that it is read-through and
// write-through: every operation loads the latest persisted state and every
// mutation writes it back before returning. There is no caching and no dirty
// tracking. Several experiment sessions may point at the same document, so a
// stale in-process copy would silently hand out wrong group counts; paying a
// full read per operation is the accepted cost.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Application Layer            │
//	│  (Shelf facade, Counterbalancer)    │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store Interface            │
//	│ (Contains, Get, Set, Keys, Update)  │
//	└─────────────────────────────────────┘
//	                 │
//	    ┌────────────┼────────────┐
//	    ▼            ▼            ▼
//	┌────────┐  ┌────────┐  ┌────────┐
//	│  File  │  │ Memory │  │ Redis  │
//	│ Store  │  │ Store  │  │ Store  │
//	└────────┘  └────────┘  └────────┘
//
// # Implementations
//
// FileStore: one pretty-printed JSON file per shelf
//   - The file is the sole source of truth
//   - Created lazily with an empty document ({})
//   - Validated at open time; corruption is fatal, never auto-repaired
//   - Suitable for per-user, per-experiment, and per-participant scopes
//
// MemoryStore: map-backed, non-persistent
//   - Suitable for tests and throwaway sessions
//
// RedisStore: one Redis string per shelf key
//   - Lets multiple machines share a shelf without a shared filesystem
//   - Update uses optimistic WATCH transactions
//
// # Concurrency
//
// Update is the only primitive with a cross-writer guarantee: it applies a
// caller function to one key as a single atomic read-modify-write. FileStore
// backs this with a process-wide lock per resolved path, so every FileStore
// on the same file within one process serializes through the same mutex.
// Writers in other processes are NOT serialized; two processes allocating
// against the same file can still lose an update. Deployments that need
// cross-process safety should point at the redis backend instead.
//
// # Error Handling
//
// ErrKeyNotFound: key doesn't exist in the document
//   - Returned by Get only; Contains reports absence without error
//
// MalformedStoreError: backing document is not valid JSON
//   - Carries the path and the decoder's byte offset
//   - Fatal and surfaced immediately, the document is never reset
//
// I/O errors propagate wrapped with %w and are never masked.
//
// # Usage Example
//
//	s, err := store.Open("file", store.Options{Path: "/data/study/shelf.json"})
//	if err != nil {
//	    log.Fatalf("open shelf: %v", err)
//	}
//
//	var entry map[string]int
//	if err := s.Get(ctx, "conditionA", &entry); err != nil {
//	    if errors.Is(err, store.ErrKeyNotFound) {
//	        entry = map[string]int{}
//	    } else {
//	        log.Fatalf("load entry: %v", err)
//	    }
//	}
//
//	err = s.Update(ctx, "conditionA", func(cur json.RawMessage, ok bool) (any, error) {
//	    // mutate and return the new value, or store.ErrNoChange
//	    return entry, nil
//	})
//
// # See Also
//
// Related packages:
//   - internal/counterbalance: consumes Update for allocation
//   - internal/scope: resolves which file a shelf lives in
package store
