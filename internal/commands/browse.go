package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/store"
)

func newTransactionsCommand(g *globalFlags) *cobra.Command {
	var f store.TransactionFilter
	var states string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List bank transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if states != "" {
				for _, s := range strings.Split(states, ",") {
					st, ok := model.ParseAllocationState(strings.TrimSpace(s))
					if !ok {
						return fmt.Errorf("unknown state %q", s)
					}
					f.States = append(f.States, st)
				}
			}
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("transactions"); err != nil {
					return err
				}
				txns, total, err := a.store.ListTransactions(cmd.Context(), f)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), map[string]any{"transactions": txns, "total": total})
				}
				if err := printTransactions(cmd.OutOrStdout(), txns); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d transactions\n", len(txns), total)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.BankAccountID, "account", "", "only this bank account")
	cmd.Flags().StringVar(&f.BatchID, "batch", "", "only this import batch")
	cmd.Flags().StringVar(&states, "state", "", "comma separated states: unmatched, partially_matched, fully_matched")
	cmd.Flags().BoolVar(&f.CreditsOnly, "credits-only", false, "only incoming payments")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func printTransactions(w io.Writer, txns []model.Transaction) error {
	tw := newTable(w, "ID", "DATE", "AMOUNT", "ALLOCATED", "STATE", "COUNTERPART", "PURPOSE")
	for _, tx := range txns {
		row(tw, tx.ID, tx.Date.Format("2006-01-02"), tx.Amount, tx.Allocated, tx.State(), tx.CounterpartName, tx.Purpose)
	}
	return tw.Flush()
}

func newBatchesCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and delete import batches",
	}
	cmd.AddCommand(newBatchesListCommand(g), newBatchesShowCommand(g), newBatchesDeleteCommand(g))
	return cmd
}

func newBatchesListCommand(g *globalFlags) *cobra.Command {
	var page store.Page

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List import batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("batches list"); err != nil {
					return err
				}
				batches, total, err := a.store.ListBatches(cmd.Context(), page)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout(), "ID", "CREATED", "FILE", "FORMAT", "IMPORTED", "SKIPPED", "ERRORED")
				for _, b := range batches {
					row(tw, b.ID, b.CreatedAt.Format("2006-01-02 15:04"), b.Filename, b.Format, b.Imported, b.Skipped, b.Errored)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d batches\n", len(batches), total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page.Limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "rows to skip")
	return cmd
}

func newBatchesShowCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show an import batch and its transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("batches show"); err != nil {
					return err
				}
				b, err := a.store.GetBatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				txns, _, err := a.store.ListTransactions(cmd.Context(), store.TransactionFilter{BatchID: b.ID})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s  %s  format %s, %d bytes\n", b.ID, b.Filename, b.Format, b.ByteSize)
				fmt.Fprintf(out, "columns: %s\n", strings.Join(b.Columns, ", "))
				if b.SourceURI != "" {
					fmt.Fprintf(out, "archived at %s\n", b.SourceURI)
				}
				fmt.Fprintf(out, "%d imported, %d skipped, %d errored\n\n", b.Imported, b.Skipped, b.Errored)
				return printTransactions(out, txns)
			})
		},
	}
}

func newBatchesDeleteCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <batch-id>",
		Short: "Delete an import batch and its transactions",
		Long:  "Delete an import batch and its transactions. Batches with matched\ntransactions are refused; unmatch them first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				if err := a.requirePersistent("batches delete"); err != nil {
					return err
				}
				if err := a.store.DeleteBatch(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted batch %s\n", args[0])
				return nil
			})
		},
	}
}
