package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrNoChange can be returned from an UpdateFunc to abort an Update without
// writing anything back. Update returns nil in that case.
var ErrNoChange = errors.New("no change")

// MalformedStoreError is returned when the backing document exists but is not
// valid JSON. It is fatal: the store never repairs or resets a corrupt
// document on its own.
type MalformedStoreError struct {
	// Path identifies the backing document (a file path for FileStore, a
	// redis key for RedisStore).
	Path string
	// Offset is the byte offset of the parse failure, when the decoder
	// reports one.
	Offset int64
	// Err is the underlying decode error.
	Err error
}

func (e *MalformedStoreError) Error() string {
	return fmt.Sprintf("contents of shelf store %q are not valid JSON (offset %d), has the file been edited by hand? original error: %v",
		e.Path, e.Offset, e.Err)
}

func (e *MalformedStoreError) Unwrap() error { return e.Err }

// UpdateFunc transforms the current value of one key inside Update. cur is the
// raw JSON of the existing value and exists reports whether the key was
// present. The returned value is marshalled and stored under the key; return
// ErrNoChange to leave the document untouched.
type UpdateFunc func(cur json.RawMessage, exists bool) (any, error)

// Store defines the interface for keyed JSON document storage.
// Every operation observes the latest persisted state, there is no
// in-process cache between calls.
type Store interface {
	// Contains reports whether key is present
	Contains(ctx context.Context, key string) (bool, error)

	// Get unmarshals the value stored under key into out
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(ctx context.Context, key string, out any) error

	// Set stores a JSON-serializable value under key
	// Overwrites any existing value for the key
	Set(ctx context.Context, key string, value any) error

	// Keys returns all keys in the store
	// Order is not guaranteed
	Keys(ctx context.Context) ([]string, error)

	// Update applies fn to the value under key as one atomic
	// read-modify-write with respect to other writers on the same store
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
