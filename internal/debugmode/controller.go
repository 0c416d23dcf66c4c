// ABOUTME: Debug mode toggle persisting intent and applying the runtime effect
// ABOUTME: Records configuration notices when the environment pins the runtime state

package debugmode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mrwp-agent/internal/options"
)

// PinEnv pins debug logging at process start.
const PinEnv = "MRWP_DEBUG"

// Pin is the environment's hold on the runtime debug state.
type Pin int

const (
	Unpinned Pin = iota
	PinnedOn
	PinnedOff
)

// ParsePin reads a MRWP_DEBUG value. Unrecognized values leave debug unpinned.
func ParsePin(v string) Pin {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return PinnedOn
	case "0", "false", "off", "no":
		return PinnedOff
	default:
		return Unpinned
	}
}

func (p Pin) String() string {
	switch p {
	case PinnedOn:
		return "on"
	case PinnedOff:
		return "off"
	default:
		return "none"
	}
}

// Notice is a non-fatal configuration message.
type Notice struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Info describes the runtime debug configuration.
type Info struct {
	Active       bool   `json:"active"`
	Level        string `json:"level"`
	Pinned       string `json:"pinned"`
	LogPath      string `json:"debug_log_path"`
	LogExists    bool   `json:"debug_log_exists"`
	LogSizeBytes int64  `json:"debug_log_size"`
}

// State is returned by Toggle.
type State struct {
	DebugEnabled bool   `json:"debug_enabled"`
	DebugInfo    Info   `json:"debug_info"`
	Notice       string `json:"notice,omitempty"`
}

// Controller owns debug_enabled and its runtime effect.
type Controller struct {
	repo    *options.Repository
	sink    *Sink
	notices *options.Journal[Notice]
	pin     Pin
	now     func() time.Time
	logger  *slog.Logger
}

// NewController creates a Controller. pin comes from ParsePin(os.Getenv(PinEnv)).
func NewController(repo *options.Repository, sink *Sink, pin Pin, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		repo:    repo,
		sink:    sink,
		notices: options.NewJournal[Notice](repo.Store(), options.DebugNoticesKey, options.DebugNoticesMax),
		pin:     pin,
		now:     time.Now,
		logger:  logger.With("component", "debugmode"),
	}
}

// Restore applies the persisted flag at startup.
func (c *Controller) Restore(ctx context.Context) error {
	cfg, err := c.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading debug flag: %w", err)
	}
	effective, _ := c.resolve(cfg.DebugEnabled)
	c.sink.SetActive(effective)
	return nil
}

// Toggle flips debug_enabled. The persisted flag always changes; when the
// environment pins the runtime state the result carries a notice.
func (c *Controller) Toggle(ctx context.Context) (State, error) {
	cfg, err := c.repo.Update(ctx, func(a *options.AgentConfig) error {
		a.DebugEnabled = !a.DebugEnabled
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("toggling debug: %w", err)
	}
	notice := c.apply(ctx, cfg.DebugEnabled)
	c.logger.Info("debug toggled", "enabled", cfg.DebugEnabled, "active", c.sink.Active())
	return State{DebugEnabled: cfg.DebugEnabled, DebugInfo: c.Info(), Notice: notice}, nil
}

// resolve returns the runtime state the pin allows for want, and the notice
// explaining a mismatch.
func (c *Controller) resolve(want bool) (bool, string) {
	switch {
	case c.pin == PinnedOn && !want:
		return true, PinEnv + " is set to true in the environment; debug logging cannot be disabled until restart"
	case c.pin == PinnedOff && want:
		return false, PinEnv + " is set to false in the environment; debug logging cannot be enabled until restart"
	}
	return want, ""
}

// apply sets the runtime state for want and records any mismatch notice.
func (c *Controller) apply(ctx context.Context, want bool) string {
	effective, notice := c.resolve(want)
	c.sink.SetActive(effective)

	if notice != "" {
		c.logger.Warn("debug configuration not applied", "notice", notice)
		if err := c.notices.Append(ctx, Notice{ID: uuid.NewString(), Message: notice, Timestamp: c.now().Unix()}); err != nil {
			c.logger.Error("recording debug notice failed", "error", err)
		}
	}
	return notice
}

// Info reports the runtime configuration.
func (c *Controller) Info() Info {
	size, exists := c.sink.Size()
	return Info{
		Active:       c.sink.Active(),
		Level:        c.sink.Level().Level().String(),
		Pinned:       c.pin.String(),
		LogPath:      c.sink.Path(),
		LogExists:    exists,
		LogSizeBytes: size,
	}
}

// Notices returns recorded notices, oldest first.
func (c *Controller) Notices(ctx context.Context) ([]Notice, error) {
	return c.notices.List(ctx)
}

// ClearNotices drops every recorded notice.
func (c *Controller) ClearNotices(ctx context.Context) error {
	return c.notices.Clear(ctx)
}

// Tail returns the last n lines of the debug log.
func (c *Controller) Tail(n int) ([]string, error) {
	return c.sink.Tail(n)
}

// ClearLog truncates the debug log.
func (c *Controller) ClearLog() error {
	return c.sink.Clear()
}
