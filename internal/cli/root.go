// Package cli implements the pointsd command tree.
package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skillmarket/points/internal/daemon"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pointsd",
	Short: "Points ledger service for the specialist marketplace",
	Long: `pointsd keeps the marketplace points ledger: regular and bonus balances,
an append-only transaction history, bonus expiry, and the contact-view and
request quotas that decide specialist visibility.

Run 'pointsd serve' for the HTTP API and scheduled sweeper. The other
commands operate on the configured store directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to config file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withDaemon loads config, builds the daemon, and runs fn against it.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// One-shot commands never start the scheduler.
	cfg.Sweeper.Enabled = false

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

// printJSON writes v to stdout, indented.
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
