// ABOUTME: ConfigStore interface for the agent's persisted key/value options
// ABOUTME: Defines the per-key atomic read-modify-write contract shared by all backends

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// UpdateFunc receives the current raw value of a key (nil when absent) and
// returns the value to persist. Returning an error aborts the write.
type UpdateFunc func(current []byte) ([]byte, error)

// ConfigStore is the host's persistent option store.
// Implementations serialize concurrent writers at the key level: an Update
// observes the value left by the previous Update on the same key.
type ConfigStore interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Update atomically reads, transforms and writes the value under key.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}
