// ABOUTME: Bounded JSON journals persisted next to the agent record
// ABOUTME: Backs the API activity log, email log and debug notices

package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/mrwp-agent/internal/store"
)

// Journal keys and their retention.
const (
	APILogKey       = "mrwp_api_log"
	APILogMax       = 100
	EmailLogKey     = "mrwp_email_log"
	EmailLogMax     = 50
	DebugNoticesKey = "mrwp_debug_notices"
	DebugNoticesMax = 10
)

// Journal is an append-only list capped at Max entries, oldest dropped first.
type Journal[T any] struct {
	store store.ConfigStore
	key   string
	max   int
}

// NewJournal returns a journal stored under key.
func NewJournal[T any](s store.ConfigStore, key string, max int) *Journal[T] {
	return &Journal[T]{store: s, key: key, max: max}
}

// Append adds entry and trims the journal to its cap.
func (j *Journal[T]) Append(ctx context.Context, entry T) error {
	return j.store.Update(ctx, j.key, func(current []byte) ([]byte, error) {
		entries := decodeEntries[T](current)
		entries = append(entries, entry)
		if len(entries) > j.max {
			entries = entries[len(entries)-j.max:]
		}
		return json.Marshal(entries)
	})
}

// List returns all entries, oldest first.
func (j *Journal[T]) List(ctx context.Context) ([]T, error) {
	raw, err := j.store.Get(ctx, j.key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", j.key, err)
	}
	return decodeEntries[T](raw), nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal[T]) Recent(ctx context.Context, limit int) ([]T, error) {
	entries, err := j.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

// Clear removes every entry.
func (j *Journal[T]) Clear(ctx context.Context) error {
	return j.store.Delete(ctx, j.key)
}

// decodeEntries tolerates a corrupt journal by starting over.
func decodeEntries[T any](raw []byte) []T {
	if len(raw) == 0 {
		return nil
	}
	var entries []T
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}
