package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/ledger"
)

func newChargesCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charges",
		Short: "Inspect and load ledger charges",
	}
	cmd.AddCommand(
		newChargesListCommand(g),
		newChargesLoadCommand(g),
		newChargesFreezeCommand(g, "freeze", true),
		newChargesFreezeCommand(g, "unfreeze", false),
	)
	return cmd
}

func newChargesListCommand(g *globalFlags) *cobra.Command {
	var q ledger.Query
	var overdueOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List charges with an open balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				charges, err := a.ledger.OpenCharges(cmd.Context(), q)
				if err != nil {
					return err
				}
				now := a.now()
				tw := newTable(cmd.OutOrStdout(), "ID", "PORTFOLIO", "TENANT", "UNIT", "DUE", "ORIGINAL", "REMAINING", "STATUS")
				n := 0
				for _, c := range charges {
					if overdueOnly && !c.Overdue(now) {
						continue
					}
					row(tw, c.ID, c.PortfolioID, c.TenantName, c.UnitLabel, c.DueDate.Format("2006-01-02"), c.Original, c.Remaining, c.Status(now))
					n++
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d open charges\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&q.PortfolioID, "portfolio", "", "only this portfolio")
	cmd.Flags().BoolVar(&overdueOnly, "overdue", false, "only overdue charges")
	return cmd
}

func newChargesLoadCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load <charges.csv>",
		Short: "Load charges from a CSV file into the postgres ledger",
		Long: "Load charges from a CSV file into the postgres ledger. Existing\n" +
			"charges are updated. The memory store reads charges_file on every start.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("charges load"); err != nil {
					return err
				}
				if _, err := os.Stat(args[0]); err != nil {
					return fmt.Errorf("reading charges file: %w", err)
				}
				charges, err := readChargesFile(args[0])
				if err != nil {
					return err
				}
				if err := a.postgres.Seed(cmd.Context(), charges...); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d charges\n", len(charges))
				return nil
			})
		},
	}
}

func newChargesFreezeCommand(g *globalFlags, use string, frozen bool) *cobra.Command {
	short, done := "Freeze a charge so matches against it cannot change", "frozen"
	if !frozen {
		short, done = "Unfreeze a charge", "unfrozen"
	}
	return &cobra.Command{
		Use:   use + " <charge-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("charges " + use); err != nil {
					return err
				}
				if err := a.postgres.Freeze(cmd.Context(), args[0], frozen); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Charge %s %s\n", args[0], done)
				return nil
			})
		},
	}
}
