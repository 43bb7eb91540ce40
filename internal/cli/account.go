package cli

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/daemon"
	"github.com/skillmarket/points/internal/domain"
)

// ─── Account CLI ────────────────────────────────────────────────────────────
// Operator commands against the ledger. Output is JSON so it can be piped.

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountOpenCmd)
	accountCmd.AddCommand(accountBalanceCmd)
	accountCmd.AddCommand(accountHistoryCmd)
	accountCmd.AddCommand(accountBonusCmd)
	accountCmd.AddCommand(accountReconcileCmd)

	rootCmd.AddCommand(pointsCmd)
	pointsCmd.AddCommand(pointsCreditCmd)
	pointsCmd.AddCommand(pointsDebitCmd)

	accountHistoryCmd.Flags().Int("limit", ledger.DefaultHistoryLimit, "Rows per page")
	accountHistoryCmd.Flags().Int("offset", 0, "Rows to skip")

	pointsCreditCmd.Flags().StringP("type", "t", string(domain.TxDeposit), "Transaction type")
	pointsCreditCmd.Flags().Bool("bonus", false, "Credit the bonus balance")
	pointsCreditCmd.Flags().StringP("description", "d", "", "Description")

	pointsDebitCmd.Flags().StringP("type", "t", string(domain.TxPurchase), "Transaction type")
	pointsDebitCmd.Flags().StringP("description", "d", "", "Description")
	pointsDebitCmd.Flags().Bool("incoming", false, "Skip the sufficiency check")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect and manage points accounts",
}

// ─── account open ───────────────────────────────────────────────────────────

var accountOpenCmd = &cobra.Command{
	Use:   "open ACCOUNT_ID",
	Short: "Open a points account with zero balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			acc, err := d.Ledger.OpenAccount(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, acc)
		})
	},
}

// ─── account balance ────────────────────────────────────────────────────────

var accountBalanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT_ID",
	Short: "Show regular, bonus and total balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			b, err := d.Ledger.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		})
	},
}

// ─── account history ────────────────────────────────────────────────────────

var accountHistoryCmd = &cobra.Command{
	Use:   "history ACCOUNT_ID",
	Short: "List transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			txs, err := d.Ledger.GetTransactionHistory(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}
			total, err := d.Ledger.GetTransactionCount(ctx, args[0])
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No transactions (%d total).\n", total)
				return nil
			}
			return printJSON(cmd, map[string]interface{}{"transactions": txs, "total": total})
		})
	},
}

// ─── account bonus ──────────────────────────────────────────────────────────

var accountBonusCmd = &cobra.Command{
	Use:   "bonus ACCOUNT_ID",
	Short: "Grant the registration bonus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			tx, err := d.Ledger.GrantRegistrationBonus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, tx)
		})
	},
}

// ─── account reconcile ──────────────────────────────────────────────────────

var accountReconcileCmd = &cobra.Command{
	Use:   "reconcile ACCOUNT_ID",
	Short: "Replay the transaction log against stored balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			rep, err := d.Ledger.ReconcileAccount(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			if !rep.Consistent {
				return fmt.Errorf("account %s: %d discrepancies", args[0], len(rep.Discrepancies))
			}
			return nil
		})
	},
}

// ─── points credit / debit ──────────────────────────────────────────────────

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Credit or debit points",
}

var pointsCreditCmd = &cobra.Command{
	Use:   "credit ACCOUNT_ID AMOUNT",
	Short: "Credit points to an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount %q: %w", args[1], err)
		}
		txType, _ := cmd.Flags().GetString("type")
		bonus, _ := cmd.Flags().GetBool("bonus")
		desc, _ := cmd.Flags().GetString("description")
		bt := domain.BalanceRegular
		if bonus {
			bt = domain.BalanceBonus
		}
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			tx, err := d.Ledger.AddPoints(ctx, args[0], amount, domain.TransactionType(txType), bt,
				ledger.Note{Description: desc})
			if err != nil {
				return err
			}
			return printJSON(cmd, tx)
		})
	},
}

var pointsDebitCmd = &cobra.Command{
	Use:   "debit ACCOUNT_ID AMOUNT",
	Short: "Debit points, bonus balance first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("amount %q: %w", args[1], err)
		}
		txType, _ := cmd.Flags().GetString("type")
		desc, _ := cmd.Flags().GetString("description")
		incoming, _ := cmd.Flags().GetBool("incoming")
		return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			deduct := d.Ledger.DeductPoints
			if incoming {
				deduct = d.Ledger.DeductPointsForIncoming
			}
			txs, err := deduct(ctx, args[0], amount, domain.TransactionType(txType), ledger.Note{Description: desc})
			if err != nil {
				return err
			}
			return printJSON(cmd, txs)
		})
	},
}
