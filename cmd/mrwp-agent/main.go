// ABOUTME: Entry point for mrwp-agent, the remote-management agent for a hosted site
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/mrwp-agent/internal/server"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                        _
 _ __ ___  _ ____      ___ __         __ _  __ _  ___ _ __ | |_
| '_ ' _ \| '__\ \ /\ / / '_ \ _____ / _' |/ _' |/ _ \ '_ \| __|
| | | | | | |   \ V  V /| |_) |_____| (_| | (_| |  __/ | | | |_
|_| |_| |_|_|    \_/\_/ | .__/       \__,_|\__, |\___|_| |_|\__|
                        |_|                |___/
`

func main() {
	server.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mrwp-agent",
		Short:         "Remote-management agent for a hosted site",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $MRWP_CONFIG or ~/.config/mrwp/agent.yaml)")

	root.AddCommand(
		newServeCommand(opts),
		newInitCommand(opts),
		newProvisionCommand(opts),
		newSecretCommand(opts),
		newRotateSecretCommand(opts),
		newSignCommand(opts),
		newCallCommand(opts),
		newSettingsCommand(opts),
		newAdminTokenCommand(opts),
		newDeactivateCommand(opts),
		newTestEmailCommand(opts),
		newDebugLogCommand(opts),
		newNoticesCommand(opts),
		newAPILogCommand(opts),
		newEmailLogCommand(opts),
	)
	return root
}
