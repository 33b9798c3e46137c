// Command x10bridge connects a heyu-driven X10 powerline interface (CM11A or
// CM17A) to an MQTT broker.
//
// Switch commands arrive on <cmd-topic>/<housecode>, are executed with heyu,
// and the resulting state is published retained on <stat-topic>/<housecode>.
// Changes made on the powerline by other controllers are picked up from
// "heyu monitor" and published the same way. Discovery descriptors are
// announced on every connect.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. The root command runs the bridge.
func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "x10bridge",
		Short:         "Bridge X10 powerline devices to MQTT via heyu",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFlag)
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"path to config file (default $X10BRIDGE_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "announce",
		Short: "Publish discovery descriptors once and exit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return announce(configFlag)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x10bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return root
}

// getConfigPath resolves the config file path. The second result reports
// whether the file may be absent, which is only the case for the default
// path: an explicitly named file must exist.
func getConfigPath(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, false
	}
	if path := os.Getenv("X10BRIDGE_CONFIG"); path != "" {
		return path, false
	}
	return defaultConfigPath, true
}
