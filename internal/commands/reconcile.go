package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/reconcile"
)

func newReconcileCommand(g *globalFlags) *cobra.Command {
	var accountID string
	var minConfidence int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Auto-match open transactions against open charges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				rep, err := a.orchestrator.ReconcileAll(cmd.Context(), accountID, thresholdFlag(cmd, minConfidence))
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				printReport(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "only this bank account")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "auto-match threshold (default: thresholds.auto_confirm)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	return cmd
}

// thresholdFlag returns --min-confidence when it was given, else nil so the
// configured auto_confirm applies.
func thresholdFlag(cmd *cobra.Command, n int) *int {
	if !cmd.Flags().Changed("min-confidence") {
		return nil
	}
	return reconcile.Threshold(n)
}

func newSuggestCommand(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "suggest <transaction-id>",
		Short: "Rank candidate charges for a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("suggest"); err != nil {
					return err
				}
				got, err := a.service.Suggest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), got)
				}

				out := cmd.OutOrStdout()
				tx := got.Transaction
				fmt.Fprintf(out, "%s  %s  %s  %s  %s\n", tx.ID, tx.Date.Format("2006-01-02"), tx.Amount, tx.CounterpartName, tx.Purpose)
				if len(got.Candidates) == 0 {
					fmt.Fprintln(out, "No candidate charges.")
					return nil
				}
				tw := newTable(out, "CHARGE", "TENANT", "DUE", "REMAINING", "CONFIDENCE", "GRADE")
				for _, c := range got.Candidates {
					row(tw, c.Charge.ID, c.Charge.TenantName, c.Charge.DueDate.Format("2006-01-02"), c.Charge.Remaining, c.Confidence, c.Grade)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if got.Ambiguous {
					fmt.Fprintln(out, "The top candidates are too close to auto-match.")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the suggestions as JSON")
	return cmd
}

func newMatchCommand(g *globalFlags) *cobra.Command {
	var amount, note string

	cmd := &cobra.Command{
		Use:   "match <transaction-id> <charge-id>",
		Short: "Match a transaction to a charge manually",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(amount)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("match"); err != nil {
					return err
				}
				m, err := a.service.Match(cmd.Context(), reconcile.ManualMatch{
					TransactionID: args[0],
					ChargeID:      args[1],
					Amount:        amt,
					Note:          note,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Matched %s of %s to %s (%s)\n", m.Amount, m.TransactionID, m.ChargeID, m.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "matched amount in major units, e.g. 400.00 (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&note, "note", "", "note stored with the match")
	return cmd
}

func newUnmatchCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unmatch <match-id>",
		Short: "Delete a match and restore the charge balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("unmatch"); err != nil {
					return err
				}
				m, err := a.service.Unmatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed match %s; %s restored to %s\n", m.ID, m.Amount, m.ChargeID)
				return nil
			})
		},
	}
}

func parseAmount(s string) (model.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	a, ok := model.AmountFromDecimal(d)
	if !ok {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	return a, nil
}
