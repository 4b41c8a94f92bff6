// Package shelf provides persistent counterbalancing records for behavioral
// experiments: a keyed JSON store shared at designer, experiment, or
// participant scope, and weighted random group allocation with
// remaining-capacity tracking on top of it.
//
// A Shelf ties the pieces together the way an experiment session uses them:
//
//	sh, err := shelf.New(shelf.Options{
//	    Scope:          "experiment",
//	    ExperimentPath: "/studies/stroop",
//	})
//	if err != nil { ... }
//
//	group, finished, err := sh.CounterbalanceSelect(ctx, "taskOrder",
//	    []string{"AB", "BA"}, []int{20, 20})
//
// The underlying store and allocator live in internal packages; everything
// an embedding application needs is re-exported here.
package shelf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/shelf/internal/counterbalance"
	"github.com/dreamware/shelf/internal/scope"
	"github.com/dreamware/shelf/internal/store"
)

// Re-exported so embedding applications can match on store and allocator
// errors without importing internal packages.
var (
	ErrKeyNotFound = store.ErrKeyNotFound
)

type (
	// MalformedStoreError reports a backing document that is not valid JSON.
	MalformedStoreError = store.MalformedStoreError
	// InvalidCapacityError reports a bad group/capacity configuration.
	InvalidCapacityError = counterbalance.InvalidCapacityError
	// Condition describes one counterbalancing group for a Counterbalancer.
	Condition = counterbalance.Condition
	// Counterbalancer is the repetition-aware assignment layer.
	Counterbalancer = counterbalance.Counterbalancer
)

// Options configures New.
type Options struct {
	// Scope of the shelf file: "designer", "experiment", or "participant",
	// or any of their aliases (d/des/user, e/exp/project, p/par/subject).
	// Defaults to "experiment".
	Scope string
	// UserDir is the per-user profile directory, required for designer and
	// participant scopes.
	UserDir string
	// ExperimentPath locates the experiment folder (or file) for
	// experiment scope.
	ExperimentPath string
	// Participant is the participant ID for participant scope.
	Participant string

	// Backend selects the storage backend: "file" (default), "memory", or
	// "redis". Scope resolution only applies to the file backend.
	Backend string
	// RedisAddr, RedisPrefix, and RedisDB configure the redis backend.
	RedisAddr   string
	RedisPrefix string
	RedisDB     int

	// Logger receives allocation diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Shelf is a scoped, persistent set of counterbalancing records.
type Shelf struct {
	// Path is the resolved backing file location. Empty for non-file
	// backends.
	Path string

	scope scope.Scope
	st    store.Store
	alloc *counterbalance.Allocator
	log   *zap.Logger
}

// New resolves the shelf location from the scope options, opens the backing
// store (creating the file with an empty document if needed), and validates
// its contents.
func New(opts Options) (*Shelf, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	alias := opts.Scope
	if alias == "" {
		alias = "experiment"
	}
	sc, err := scope.FromAlias(alias)
	if err != nil {
		return nil, err
	}

	var path string
	if opts.Backend == "" || opts.Backend == "file" {
		path, err = scope.Resolve(sc, scope.Options{
			UserDir:        opts.UserDir,
			ExperimentPath: opts.ExperimentPath,
			Participant:    opts.Participant,
		})
		if err != nil {
			return nil, err
		}
	}

	st, err := store.Open(opts.Backend, store.Options{
		Path:        path,
		RedisAddr:   opts.RedisAddr,
		RedisPrefix: opts.RedisPrefix,
		RedisDB:     opts.RedisDB,
	})
	if err != nil {
		return nil, err
	}

	return &Shelf{
		Path:  path,
		scope: sc,
		st:    st,
		alloc: counterbalance.NewAllocator(st),
		log:   log,
	}, nil
}

// Open wraps an existing store in a Shelf, bypassing scope resolution.
// Intended for tests and embedders with their own storage wiring.
func Open(st store.Store, log *zap.Logger) *Shelf {
	if log == nil {
		log = zap.NewNop()
	}
	return &Shelf{
		st:    st,
		alloc: counterbalance.NewAllocator(st),
		log:   log,
	}
}

// Scope returns the resolved scope of this shelf.
func (s *Shelf) Scope() string { return s.scope.String() }

// Store exposes the underlying store for direct keyed access.
func (s *Shelf) Store() store.Store { return s.st }

// Contains reports whether key is present on the shelf.
func (s *Shelf) Contains(ctx context.Context, key string) (bool, error) {
	return s.st.Contains(ctx, key)
}

// Get unmarshals the value stored under key into out. Returns
// ErrKeyNotFound when the key is absent.
func (s *Shelf) Get(ctx context.Context, key string, out any) error {
	return s.st.Get(ctx, key, out)
}

// Set stores a JSON-serializable value under key.
func (s *Shelf) Set(ctx context.Context, key string, value any) error {
	return s.st.Set(ctx, key, value)
}

// Keys returns all keys on the shelf. Order is not guaranteed.
func (s *Shelf) Keys(ctx context.Context) ([]string, error) {
	return s.st.Keys(ctx)
}

// Data returns the full shelf document as raw JSON values per key.
func (s *Shelf) Data(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := s.st.Keys(ctx)
	if err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var raw json.RawMessage
		if err := s.st.Get(ctx, key, &raw); err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				// Deleted between Keys and Get by another writer.
				continue
			}
			return nil, fmt.Errorf("read key %q: %w", key, err)
		}
		doc[key] = raw
	}
	return doc, nil
}

// CounterbalanceSelect picks a group from the counterbalancing entry under
// key and decrements its remaining count. groups and groupSizes must be the
// same length; see counterbalance.Allocator.Allocate for the selection
// rules. Returns the chosen group and whether that group is now full; a
// fully exhausted entry returns ("", true, nil).
func (s *Shelf) CounterbalanceSelect(ctx context.Context, key string, groups []string, groupSizes []int) (string, bool, error) {
	return s.alloc.Allocate(ctx, key, groups, groupSizes)
}

// NewCounterbalancer creates a repetition-aware counterbalancer over the
// named entry on this shelf.
func (s *Shelf) NewCounterbalancer(ctx context.Context, entry string, conditions []Condition, nReps int) (*Counterbalancer, error) {
	return counterbalance.NewCounterbalancer(ctx, s.alloc, entry, conditions, nReps, s.log)
}
