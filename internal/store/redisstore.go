package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dreamware/shelf/internal/telemetry"
)

// maxTxRetries bounds optimistic WATCH retries in Update before giving up.
const maxTxRetries = 16

// RedisStore implements Store on a Redis hash-free key layout: each shelf
// key maps to one Redis string holding the JSON-encoded entry. It lets
// several machines in a lab share one shelf without sharing a filesystem.
type RedisStore struct {
	c      *redis.Client
	prefix string
}

// NewRedisStore creates a store backed by the Redis server at addr.
// prefix namespaces this shelf's keys, so several shelves can share a
// database.
func NewRedisStore(addr, prefix string, db int) *RedisStore {
	opt := &redis.Options{Addr: addr, DB: db}
	return &RedisStore{c: redis.NewClient(opt), prefix: prefix}
}

// NewRedisStoreFromClient wraps an existing client, for callers that already
// manage connection options themselves.
func NewRedisStoreFromClient(c *redis.Client, prefix string) *RedisStore {
	return &RedisStore{c: c, prefix: prefix}
}

func (r *RedisStore) redisKey(key string) string {
	return r.prefix + key
}

// Contains reports whether key is present
func (r *RedisStore) Contains(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Get unmarshals the value under key into out
// Returns ErrKeyNotFound if the key doesn't exist
func (r *RedisStore) Get(ctx context.Context, key string, out any) error {
	raw, err := r.c.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("redis get %q: %w", key, err)
	}
	telemetry.RecordStoreRead()

	if err := json.Unmarshal(raw, out); err != nil {
		return malformed(r.redisKey(key), err)
	}
	return nil
}

// Set stores a JSON-serializable value under key
func (r *RedisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	if err := r.c.Set(ctx, r.redisKey(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	telemetry.RecordStoreWrite()
	return nil
}

// Keys returns all keys under this store's prefix
// Order is not guaranteed
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.c.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Update applies fn to the value under key inside an optimistic WATCH
// transaction, retrying when a concurrent writer invalidates the read.
func (r *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rkey := r.redisKey(key)

	txn := func(tx *redis.Tx) error {
		var cur json.RawMessage
		exists := true

		raw, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return fmt.Errorf("redis get %q: %w", key, err)
		default:
			cur = raw
		}
		telemetry.RecordStoreRead()

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}

		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode value for key %q: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, out, 0)
			return nil
		})
		if err == nil {
			telemetry.RecordStoreWrite()
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.c.Watch(ctx, txn, rkey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	return fmt.Errorf("redis update %q: too many transaction conflicts", key)
}

// Close releases the underlying client connection pool.
func (r *RedisStore) Close() error {
	return r.c.Close()
}
