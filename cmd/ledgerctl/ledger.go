package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fadedpez/pointledger/internal/app"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/spf13/cobra"
)

// withLedger opens the configured stores for the duration of fn
func (c *cli) withLedger(ctx context.Context, fn func(*ledger.Service) error) error {
	stores, err := app.OpenStores(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(ledger.NewService(stores.Ledger))
}

func (c *cli) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify USER_ID...",
		Short: "Check that balances equal their opening balance plus every entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(cmd.Context(), func(svc *ledger.Service) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tLEDGER\tBALANCE\tEXPECTED\tSTATUS")

				mismatches := 0
				for _, userID := range args {
					results, err := svc.Reconcile(cmd.Context(), userID)
					if err != nil {
						w.Flush()
						return fmt.Errorf("%s: %w", userID, err)
					}
					for _, r := range results {
						status := "ok"
						if !r.Consistent() {
							status = "MISMATCH"
							mismatches++
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.UserID, r.Ledger, r.Balance, r.Expected, status)
					}
				}
				w.Flush()

				if mismatches > 0 {
					return fmt.Errorf("%d ledgers do not reconcile", mismatches)
				}
				return nil
			})
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "balance USER_ID",
		Short: "Show an account's balances and latest entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(cmd.Context(), func(svc *ledger.Service) error {
				account, err := svc.GetAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "points: %s\nwallet: %s\n", account.PointsBalance, account.WalletBalance)

				entries, err := svc.ListEntries(cmd.Context(), args[0], "", limit)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "\nCREATED\tLEDGER\tKIND\tAMOUNT\tBALANCE\tREFERENCE")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.CreatedAt.Format("2006-01-02 15:04:05"), e.Ledger, e.Kind, e.Amount, e.BalanceAfter, e.ReferenceID)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of entries to show")
	return cmd
}
