// ABOUTME: Shared helpers for server tests
// ABOUTME: Discards log output

package server

import (
	"io"
	"log/slog"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
