package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillmarket/points/internal/daemon"
	"github.com/skillmarket/points/internal/domain"
)

// ─── Specialist CLI ─────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(specialistCmd)
	specialistCmd.AddCommand(specialistSetCmd)
	specialistCmd.AddCommand(specialistLimitsCmd)
	specialistCmd.AddCommand(specialistListCmd)

	specialistSetCmd.Flags().String("account", "", "Owning points account (required)")
	specialistSetCmd.Flags().String("name", "", "Display name")
	specialistSetCmd.Flags().String("category", "", "Category")
	specialistSetCmd.Flags().Bool("blocked", false, "Blocked by moderation")
	specialistSetCmd.Flags().Bool("accepting", true, "Accepting new clients")
	specialistSetCmd.Flags().Bool("verified", false, "Identity verified")
	_ = specialistSetCmd.MarkFlagRequired("account")

	specialistListCmd.Flags().String("category", "", "Filter by category")
	specialistListCmd.Flags().Int("limit", 50, "Maximum rows")
}

var specialistCmd = &cobra.Command{
	Use:   "specialist",
	Short: "Manage specialist profiles, quotas and visibility",
}

var specialistSetCmd = &cobra.Command{
	Use:   "set SPECIALIST_ID",
	Short: "Create or update a specialist profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		p := &domain.SpecialistProfile{ID: args[0]}
		p.AccountID, _ = f.GetString("account")
		p.Name, _ = f.GetString("name")
		p.Category, _ = f.GetString("category")
		p.Blocked, _ = f.GetBool("blocked")
		p.AcceptingClients, _ = f.GetBool("accepting")
		p.Verified, _ = f.GetBool("verified")
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			if err := d.Gate.SaveProfile(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Specialist %s saved (visible: %t)\n",
				p.ID, d.Gate.IsProfileVisible(ctx, p.ID))
			return nil
		})
	},
}

var specialistLimitsCmd = &cobra.Command{
	Use:   "limits SPECIALIST_ID",
	Short: "Show quotas derived from the specialist's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			l := d.Gate.GetLimits(ctx, args[0])
			if l == nil {
				return fmt.Errorf("specialist %q: %w", args[0], domain.ErrNotFound)
			}
			return printJSON(cmd, l)
		})
	},
}

var specialistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List specialists visible in search",
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			list, err := d.Gate.GetVisibleSpecialists(ctx, domain.ProfileFilter{Category: category, Limit: limit})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No visible specialists.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Visible specialists (%d):\n", len(list))
			for _, p := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "  • %s  %s  [%s]\n", p.ID, p.Name, p.Category)
			}
			return nil
		})
	},
}
