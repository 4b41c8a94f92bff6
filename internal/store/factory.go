package store

import (
	"errors"
	"fmt"
)

// Options carries backend-specific settings for Open.
type Options struct {
	// Path is the backing file location for the "file" backend.
	Path string
	// RedisAddr is the host:port of the Redis server for the "redis" backend.
	RedisAddr string
	// RedisPrefix namespaces shelf keys on the Redis server. Optional.
	RedisPrefix string
	// RedisDB selects the Redis logical database. Optional.
	RedisDB int
}

// Open constructs a Store based on a string selector.
// Supported backends:
//   - "file" (default): JSON file at opts.Path
//   - "memory": non-persistent in-process store
//   - "redis": shared store on the Redis server at opts.RedisAddr
func Open(backend string, opts Options) (Store, error) {
	switch backend {
	case "", "file":
		if opts.Path == "" {
			return nil, errors.New("file backend requires a path")
		}
		return NewFileStore(opts.Path)
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, errors.New("redis backend requires an address")
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisPrefix, opts.RedisDB), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
