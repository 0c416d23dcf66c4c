// ABOUTME: Rotating JSON log sink and tee handler active only while debug mode is on
// ABOUTME: Owns the LevelVar that the console handler reads

package debugmode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SinkConfig bounds the debug log file.
type SinkConfig struct {
	Path       string // empty disables the file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// BaseLevel is the console level while debug mode is off.
	BaseLevel slog.Level
}

// Sink holds the debug log file and the shared console level.
type Sink struct {
	cfg    SinkConfig
	writer *lumberjack.Logger
	file   slog.Handler
	level  *slog.LevelVar
	active atomic.Bool
}

// NewSink creates a sink. No file is opened until a record is written.
func NewSink(cfg SinkConfig) *Sink {
	s := &Sink{cfg: cfg, level: new(slog.LevelVar)}
	s.level.Set(cfg.BaseLevel)
	if cfg.Path != "" {
		s.writer = &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		s.file = slog.NewJSONHandler(s.writer, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return s
}

// Level is the console level; pass it to the console handler's options.
func (s *Sink) Level() *slog.LevelVar {
	return s.level
}

// SetActive switches the file tee and console verbosity.
func (s *Sink) SetActive(on bool) {
	s.active.Store(on)
	if on {
		s.level.Set(slog.LevelDebug)
	} else {
		s.level.Set(s.cfg.BaseLevel)
	}
}

// Active reports whether debug logging is in effect.
func (s *Sink) Active() bool {
	return s.active.Load()
}

// Path returns the debug log location, "" when disabled.
func (s *Sink) Path() string {
	return s.cfg.Path
}

// Size returns the current log file size and whether it exists.
func (s *Sink) Size() (int64, bool) {
	if s.cfg.Path == "" {
		return 0, false
	}
	info, err := os.Stat(s.cfg.Path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// Tail returns the last n lines of the current log file, oldest first.
func (s *Sink) Tail(n int) ([]string, error) {
	if s.cfg.Path == "" || n <= 0 {
		return nil, nil
	}
	f, err := os.Open(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening debug log: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading debug log: %w", err)
	}
	return ring, nil
}

// Clear truncates the current log file. Rotated backups are left alone.
func (s *Sink) Clear() error {
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("closing debug log: %w", err)
	}
	if err := os.Truncate(s.cfg.Path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("truncating debug log: %w", err)
	}
	return nil
}

// Close releases the log file.
func (s *Sink) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

// Wrap returns a handler that writes to primary and, while the sink is
// active, also to the debug log file.
func (s *Sink) Wrap(primary slog.Handler) slog.Handler {
	return &teeHandler{primary: primary, file: s.file, sink: s}
}

type teeHandler struct {
	primary slog.Handler
	file    slog.Handler
	sink    *Sink
}

func (h *teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if h.primary.Enabled(ctx, l) {
		return true
	}
	return h.file != nil && h.sink.Active()
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.primary.Enabled(ctx, r.Level) {
		errs = append(errs, h.primary.Handle(ctx, r.Clone()))
	}
	if h.file != nil && h.sink.Active() {
		errs = append(errs, h.file.Handle(ctx, r))
	}
	return errors.Join(errs...)
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &teeHandler{primary: h.primary.WithAttrs(attrs), sink: h.sink}
	if h.file != nil {
		out.file = h.file.WithAttrs(attrs)
	}
	return out
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	out := &teeHandler{primary: h.primary.WithGroup(name), sink: h.sink}
	if h.file != nil {
		out.file = h.file.WithGroup(name)
	}
	return out
}
