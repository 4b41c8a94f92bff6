package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// TestMemoryStore tests the in-memory store implementation
func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("Expected empty store, got %d keys", len(keys))
		}

		var out any
		if err := store.Get(ctx, "nonexistent", &out); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("set and get values", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set(ctx, "key1", map[string]int{"a": 1}); err != nil {
			t.Fatalf("Failed to set value: %v", err)
		}

		var got map[string]int
		if err := store.Get(ctx, "key1", &got); err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if got["a"] != 1 {
			t.Errorf("Expected a=1, got %v", got)
		}
	})

	t.Run("overwrite existing key", func(t *testing.T) {
		store := NewMemoryStore()

		if err := store.Set(ctx, "key1", "value1"); err != nil {
			t.Fatalf("Failed to set initial value: %v", err)
		}
		if err := store.Set(ctx, "key1", "value2"); err != nil {
			t.Fatalf("Failed to overwrite value: %v", err)
		}

		var got string
		if err := store.Get(ctx, "key1", &got); err != nil {
			t.Fatalf("Failed to get value: %v", err)
		}
		if got != "value2" {
			t.Errorf("Expected 'value2', got %s", got)
		}
	})

	t.Run("contains and keys", func(t *testing.T) {
		store := NewMemoryStore()

		for _, key := range []string{"a", "b", "c"} {
			if err := store.Set(ctx, key, 0); err != nil {
				t.Fatalf("Failed to set %s: %v", key, err)
			}
		}

		ok, err := store.Contains(ctx, "b")
		if err != nil {
			t.Fatalf("Contains failed: %v", err)
		}
		if !ok {
			t.Error("Expected b to be present")
		}

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if len(keys) != 3 {
			t.Errorf("Expected 3 keys, got %d", len(keys))
		}
	})

	t.Run("concurrent updates lose nothing", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, "counter", 0); err != nil {
			t.Fatalf("Failed to seed counter: %v", err)
		}

		const (
			goroutines = 16
			increments = 50
		)
		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < increments; i++ {
					err := store.Update(ctx, "counter", func(cur json.RawMessage, exists bool) (any, error) {
						n := 0
						if exists {
							if err := json.Unmarshal(cur, &n); err != nil {
								return nil, err
							}
						}
						return n + 1, nil
					})
					if err != nil {
						t.Errorf("Update failed: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		var got int
		if err := store.Get(ctx, "counter", &got); err != nil {
			t.Fatalf("Failed to read counter: %v", err)
		}
		if got != goroutines*increments {
			t.Errorf("Expected %d, got %d (lost updates)", goroutines*increments, got)
		}
	})
}
