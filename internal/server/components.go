// ABOUTME: Builds the option store and every domain component from configuration
// ABOUTME: Shared by the serve command and the one-shot CLI subcommands

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/2389/mrwp-agent/internal/actions"
	"github.com/2389/mrwp-agent/internal/api"
	"github.com/2389/mrwp-agent/internal/auth"
	"github.com/2389/mrwp-agent/internal/config"
	"github.com/2389/mrwp-agent/internal/debugmode"
	"github.com/2389/mrwp-agent/internal/maintenance"
	"github.com/2389/mrwp-agent/internal/notify"
	"github.com/2389/mrwp-agent/internal/options"
	"github.com/2389/mrwp-agent/internal/replay"
	"github.com/2389/mrwp-agent/internal/secrets"
	"github.com/2389/mrwp-agent/internal/status"
	"github.com/2389/mrwp-agent/internal/store"
)

// Version is the agent version reported by ping and status.
var Version = "dev"

// Components holds the assembled domain layer.
type Components struct {
	Config *config.Config

	Store    store.ConfigStore
	Options  *options.Repository
	Secrets  *secrets.Manager
	Gate     *maintenance.Gate
	Sink     *debugmode.Sink
	Debug    *debugmode.Controller
	Notify   *notify.Service
	Alerter  *notify.Alerter
	Actions  *actions.Dispatcher
	Status   *status.Reporter
	Auth     *auth.Authenticator
	Replay   *replay.Cache
	Admins   *auth.AdminTokens
	API      *api.Handler
	Journals Journals
}

// Journals groups the bounded activity logs.
type Journals struct {
	API *options.Journal[api.LogEntry]
}

// OpenStore opens the configured ConfigStore.
func OpenStore(cfg config.DatabaseConfig, logger *slog.Logger) (store.ConfigStore, error) {
	opts := []store.Option{store.WithDriver(cfg.Driver), store.WithLogger(logger.With("component", "store"))}
	if cfg.EncryptionKey != "" {
		sealer, err := store.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("configuring store encryption: %w", err)
		}
		opts = append(opts, store.WithSealer(sealer))
	}
	s, err := store.NewSQLiteStore(cfg.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

// NewComponents assembles the domain layer over st. sink may be nil, in
// which case a file-less sink is created.
func NewComponents(cfg *config.Config, st store.ConfigStore, sink *debugmode.Sink, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = debugmode.NewSink(debugmode.SinkConfig{BaseLevel: ParseLevel(cfg.Logging.Level)})
	}

	c := &Components{Config: cfg, Store: st, Sink: sink}
	c.Options = options.NewRepository(st)
	c.Secrets = secrets.NewManager(c.Options, logger)

	gate, err := maintenance.NewGate(c.Options, c.Secrets, maintenance.Config{
		BaseURL:     cfg.Site.BaseURL,
		AdminPrefix: cfg.Site.AdminPrefix,
		APIRoot:     cfg.Site.APIRoot,
		FailClosed:  cfg.Site.FailClosed,
		Page: maintenance.PageOptions{
			SiteName: cfg.Site.Name,
			Message:  cfg.Site.MaintenanceMessage,
			Lang:     cfg.Site.MaintenanceLang,
			Footer:   cfg.Site.MaintenanceFooter,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("building maintenance gate: %w", err)
	}
	c.Gate = gate

	c.Debug = debugmode.NewController(c.Options, sink, debugmode.ParsePin(os.Getenv(debugmode.PinEnv)), logger)

	var mailer notify.Mailer
	smtp, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		TLS:      cfg.SMTP.TLS,
		Timeout:  cfg.SMTP.Timeout,
	}, logger)
	switch {
	case errors.Is(err, notify.ErrMailerDisabled):
		logger.Debug("smtp not configured, email actions will report delivery failures")
	case err != nil:
		return nil, fmt.Errorf("configuring smtp: %w", err)
	default:
		mailer = smtp
	}
	c.Notify = notify.NewService(c.Options, c.Gate, mailer, notify.Site{
		Name:        cfg.Site.Name,
		URL:         cfg.Site.BaseURL,
		FromAddress: cfg.SMTP.From,
		ReplyTo:     cfg.SMTP.ReplyTo,
	}, logger)

	sinks, err := alertSinks(cfg, c.Notify)
	if err != nil {
		return nil, err
	}
	c.Alerter = notify.NewAlerter(sinks, cfg.Alerts.QueueSize, logger)

	c.Actions = actions.NewDispatcher(c.Gate, c.Debug, c.Notify, c.Alerter, logger)
	c.Status = status.NewReporter(c.Options, c.Gate, status.FileHost{Path: cfg.Site.HostInfoPath}, status.Site{
		Name:         cfg.Site.Name,
		URL:          cfg.Site.BaseURL,
		AgentVersion: Version,
	})

	authOpts := []auth.AuthenticatorOption{auth.WithLogger(logger)}
	if cfg.Auth.RejectReplayedSignatures {
		c.Replay = replay.New(2*auth.ReplayWindow+time.Minute, 100000)
		authOpts = append(authOpts, auth.WithReplayCache(c.Replay))
	}
	c.Auth = auth.NewAuthenticator(c.Secrets, authOpts...)

	if cfg.Auth.AdminJWTSecret != "" {
		c.Admins, err = auth.NewAdminTokens([]byte(cfg.Auth.AdminJWTSecret))
		if err != nil {
			return nil, fmt.Errorf("configuring admin tokens: %w", err)
		}
	}

	c.API = api.New(api.Config{Root: cfg.Site.APIRoot}, c.Auth, c.Actions, c.Status, c.Options, logger)
	c.Journals = Journals{API: c.API.Journal()}
	return c, nil
}

func alertSinks(cfg *config.Config, svc *notify.Service) ([]notify.AlertSink, error) {
	var sinks []notify.AlertSink
	if cfg.Alerts.Email {
		sinks = append(sinks, notify.EmailSink{Service: svc})
	}
	if cfg.Matrix.Enabled {
		m, err := notify.NewMatrixSink(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken, cfg.Matrix.RoomID, siteLabel(cfg))
		if err != nil {
			return nil, fmt.Errorf("configuring matrix alerts: %w", err)
		}
		sinks = append(sinks, m)
	}
	return sinks, nil
}

func siteLabel(cfg *config.Config) string {
	if cfg.Site.Name != "" {
		return cfg.Site.Name
	}
	return cfg.Site.BaseURL
}

// Restore applies persisted runtime state, such as debug mode, at startup.
func (c *Components) Restore(ctx context.Context) error {
	return c.Debug.Restore(ctx)
}

// Close releases the store and background caches.
func (c *Components) Close() error {
	if c.Replay != nil {
		c.Replay.Close()
	}
	var errs []error
	if err := c.Sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing debug log: %w", err))
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a config level name onto slog.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
