package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillmarket/points/internal/daemon"
)

// ─── serve / sweep ──────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the bonus expiry sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Run(ctx)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire bonus points once and exit",
	Long: `Run one bonus expiry sweep. When redis is configured the sweep takes the
same lock as the scheduled sweeper and is skipped if another process holds it.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		res, outcome, err := d.Sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sweep %s: %d expired, %s points, %d failed\n",
			outcome, res.ExpiredCount, res.TotalAmount, res.Failed)
		return nil
	})
}
