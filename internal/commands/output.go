package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/cleared-dev/recon/internal/reconcile"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, columns ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	return tw
}

func row(tw *tabwriter.Writer, cells ...any) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(tw, strings.Join(parts, "\t"))
}

func printReport(w io.Writer, rep *reconcile.Report) {
	for _, f := range rep.Files {
		if f.Error != "" {
			fmt.Fprintf(w, "%s: not imported: %s\n", f.Filename, f.Error)
			continue
		}
		fmt.Fprintf(w, "%s: %d imported, %d skipped, %d errored (batch %s)\n",
			f.Filename, f.Imported, f.Skipped, f.Errored, f.BatchID)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  line %d: %s\n", e.Line, e.Reason)
		}
	}
	if rep.Sync != nil {
		fmt.Fprintf(w, "bank link %s: %d imported, %d skipped, %d errored\n", rep.Sync.Link.ID, rep.Sync.Imported, rep.Sync.Skipped, rep.Sync.Errored)
		for _, e := range rep.Sync.Errors {
			fmt.Fprintf(w, "  feed row %d: %s\n", e.Line, e.Reason)
		}
	}

	m := rep.Match
	fmt.Fprintf(w, "Matched %d of %d transactions: %d open, %d ambiguous, %d conflicts\n",
		m.Matched, m.TotalTransactions, m.Open, m.SkippedAmbiguous, m.Conflicts)
	fmt.Fprintf(w, "Charges considered: %d, still overdue: %d\n", m.TotalCharges, m.Overdue)
	if m.Cancelled {
		fmt.Fprintln(w, "Matching was interrupted; run reconcile to finish.")
	}
}
