package directory

import (
	"context"
	"time"
)

// Entry is one stored key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the key-value storage behind a Directory.
//
// Implementations must be safe for concurrent use. Get of a missing or
// expired key returns an error matching tderr.ErrNotFound.
type Store interface {
	// Put stores value under key. A positive ttl makes the entry expire.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// List returns every live entry whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Watch signals on the returned channel whenever a key under prefix
	// changes. The channel is closed when ctx is done or the store closes.
	Watch(ctx context.Context, prefix string) (<-chan struct{}, error)

	// Close releases the store's resources.
	Close() error
}
