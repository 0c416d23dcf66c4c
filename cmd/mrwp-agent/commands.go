// ABOUTME: Subcommands operating on the local agent: serve, secrets, settings and journals
// ABOUTME: One-shot commands open the option store, act, and close it

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/mrwp-agent/internal/api"
	"github.com/2389/mrwp-agent/internal/auth"
	"github.com/2389/mrwp-agent/internal/config"
	"github.com/2389/mrwp-agent/internal/hubclient"
	"github.com/2389/mrwp-agent/internal/secrets"
	"github.com/2389/mrwp-agent/internal/server"
)

type runFunc func(cmd *cobra.Command, c *server.Components, args []string) error

// withComponents loads config, opens the store and builds the components
// around fn.
func withComponents(opts *rootOptions, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(opts.configPath)
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, sink := setupLogger(cfg)

		st, err := server.OpenStore(cfg.Database, logger)
		if err != nil {
			_ = sink.Close()
			return err
		}
		comps, err := server.NewComponents(cfg, st, sink, logger)
		if err != nil {
			_ = st.Close()
			_ = sink.Close()
			return err
		}
		defer comps.Close()
		return fn(cmd, comps, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent in front of the host site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolvePath(opts.configPath)

			cyan := color.New(color.FgCyan)
			cyan.Print(banner)
			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, sink := setupLogger(cfg)

			green := color.New(color.FgGreen)
			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", path)
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			if cfg.Server.GRPCAddr != "" {
				green.Print("    ▶ ")
				fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
			}
			green.Print("    ▶ ")
			fmt.Printf("Upstream:  %s\n", cfg.Site.Upstream)
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			}
			fmt.Println()

			st, err := server.OpenStore(cfg.Database, logger)
			if err != nil {
				_ = sink.Close()
				return err
			}
			comps, err := server.NewComponents(cfg, st, sink, logger)
			if err != nil {
				_ = st.Close()
				_ = sink.Close()
				return err
			}
			provisioned, err := comps.Secrets.Provision(cmd.Context())
			if err != nil {
				_ = comps.Close()
				return fmt.Errorf("provisioning secrets: %w", err)
			}
			logger.Info("starting mrwp-agent",
				"config", path,
				"site", cfg.Site.BaseURL,
				"secret", secrets.Preview(provisioned.SiteSecret),
			)

			srv, err := server.New(cfg, comps, logger)
			if err != nil {
				_ = comps.Close()
				return fmt.Errorf("creating server: %w", err)
			}
			return srv.Run(cmd.Context())
		},
	}
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolvePath(opts.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating config dir: %w", err)
			}
			if err := os.WriteFile(path, []byte(config.SampleYAML), 0o600); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newProvisionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Generate the site secret and bypass code if missing",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			cfg, err := c.Secrets.Provision(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Site secret: %s\n", secrets.Preview(cfg.SiteSecret))
			fmt.Fprintf(out, "Bypass link: %s\n", c.Gate.LinkFor(cfg.BypassCode))
			return nil
		}),
	}
}

func newSecretCommand(opts *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Show the site secret shared with the hub",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			secret, err := c.Secrets.SiteSecret(cmd.Context())
			if err != nil {
				return err
			}
			if secret == "" {
				return errors.New("no site secret yet (run provision)")
			}
			if !full {
				secret = secrets.Preview(secret)
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the whole secret")
	return cmd
}

func newRotateSecretCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-secret",
		Short: "Replace the site secret; the hub must be updated",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			secret, err := c.Secrets.RotateSiteSecret(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		}),
	}
}

func newSignCommand(opts *rootOptions) *cobra.Command {
	var (
		body      string
		timestamp string
		secret    string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print signature headers for a request body",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			emit := func(secret string) error {
				ts := timestamp
				if ts == "" {
					ts = strconv.FormatInt(time.Now().Unix(), 10)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", auth.HeaderTimestamp, ts)
				fmt.Fprintf(out, "%s: %s\n", auth.HeaderSignature, auth.Sign(secret, ts, []byte(body)))
				return nil
			}
			if secret != "" {
				return emit(secret)
			}
			return withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
				s, err := c.Secrets.SiteSecret(cmd.Context())
				if err != nil {
					return err
				}
				return emit(s)
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "raw request body")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "unix timestamp (default now)")
	cmd.Flags().StringVar(&secret, "secret", "", "sign with this secret instead of the stored one")
	return cmd
}

func newCallCommand(opts *rootOptions) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:       "call ping|status|action NAME",
		Short:     "Call the control API the way the hub does",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"ping", "status", "action"},
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, args []string) error {
			secret, err := c.Secrets.SiteSecret(cmd.Context())
			if err != nil {
				return err
			}
			target := apiURL
			if target == "" {
				root := c.API.Root()
				target = "http://" + c.Config.Server.HTTPAddr + root
			}
			client := hubclient.New(target, secret)
			out := cmd.OutOrStdout()

			switch args[0] {
			case "ping":
				res, err := client.Ping(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(out, res)
			case "status":
				res, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(out, res)
			case "action":
				if len(args) != 2 {
					return errors.New("usage: call action NAME")
				}
				res, err := client.Action(cmd.Context(), args[1])
				if res.Action != "" {
					_ = printJSON(out, res)
				}
				return err
			default:
				return fmt.Errorf("unknown call %q", args[0])
			}
		}),
	}
	cmd.Flags().StringVar(&apiURL, "url", "", "API root URL (default http://<server.http_addr><api_root>)")
	return cmd
}

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	var hubURL, clientEmail string
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the hub URL and client email",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			var hub, email *string
			if cmd.Flags().Changed("hub-url") {
				hub = &hubURL
			}
			if cmd.Flags().Changed("client-email") {
				email = &clientEmail
			}

			cfg, err := c.Options.Load(cmd.Context())
			if err != nil {
				return err
			}
			if hub != nil || email != nil {
				if cfg, err = c.Secrets.UpdateSettings(cmd.Context(), hub, email); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"hub_url":             cfg.HubURL,
				"client_email":        cfg.ClientEmail,
				"maintenance_enabled": cfg.MaintenanceEnabled,
				"debug_enabled":       cfg.DebugEnabled,
				"site_secret":         secrets.Preview(cfg.SiteSecret),
				"bypass_link":         c.Gate.LinkFor(cfg.BypassCode),
			})
		}),
	}
	cmd.Flags().StringVar(&hubURL, "hub-url", "", "hub URL (empty clears)")
	cmd.Flags().StringVar(&clientEmail, "client-email", "", "client email (empty clears)")
	return cmd
}

func newAdminTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a host administrator token that passes the maintenance gate",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			if c.Admins == nil {
				return errors.New("auth.admin_jwt_secret is not configured")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}
			token, err := c.Admins.Generate(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().StringVar(&subject, "subject", "", "administrator name")
	cmd.Flags().StringVar(&role, "role", "admin", "admin or owner")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newDeactivateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Turn off maintenance and debug mode",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			if err := c.Secrets.Deactivate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Maintenance and debug mode disabled")
			return nil
		}),
	}
}

func newTestEmailCommand(opts *rootOptions) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "test-email",
		Short: "Send a test email through the configured SMTP server",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			res, err := c.Notify.SendTestEmail(cmd.Context(), to)
			_ = printJSON(cmd.OutOrStdout(), res)
			return err
		}),
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient (default client email)")
	return cmd
}

func newDebugLogCommand(opts *rootOptions) *cobra.Command {
	var (
		lines    int
		truncate bool
	)
	cmd := &cobra.Command{
		Use:   "debug-log",
		Short: "Show or clear the debug log",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			if truncate {
				if err := c.Debug.ClearLog(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Debug log cleared")
				return nil
			}
			tail, err := c.Debug.Tail(lines)
			if err != nil {
				return err
			}
			for _, l := range tail {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&lines, "lines", 100, "number of trailing lines")
	cmd.Flags().BoolVar(&truncate, "clear", false, "truncate the log")
	return cmd
}

func newNoticesCommand(opts *rootOptions) *cobra.Command {
	var removeAll bool
	cmd := &cobra.Command{
		Use:   "notices",
		Short: "List debug configuration notices",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			if removeAll {
				return c.Debug.ClearNotices(cmd.Context())
			}
			notices, err := c.Debug.Notices(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMESSAGE")
			for _, n := range notices {
				fmt.Fprintf(tw, "%s\t%s\n", time.Unix(n.Timestamp, 0).Format(time.RFC3339), n.Message)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&removeAll, "clear", false, "remove every notice")
	return cmd
}

func newAPILogCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "api-log",
		Short: "Show recent control API calls",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			entries, err := c.Journals.API.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeAPILog(cmd.OutOrStdout(), entries)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries (0 for all)")
	return cmd
}

func writeAPILog(w io.Writer, entries []api.LogEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMETHOD\tROUTE\tACTION\tSTATUS\tIP")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d %s\t%s\n",
			time.Unix(e.Timestamp, 0).Format(time.RFC3339), e.Method, e.Route, e.Action, e.Status, e.Result, e.IP)
	}
	return tw.Flush()
}

func newEmailLogCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "email-log",
		Short: "Show recent email attempts",
		Args:  cobra.NoArgs,
		RunE: withComponents(opts, func(cmd *cobra.Command, c *server.Components, _ []string) error {
			entries, err := c.Notify.EmailLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries (0 for all)")
	return cmd
}
