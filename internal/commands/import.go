package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/gitops"
	"github.com/cleared-dev/recon/internal/importer"
)

func newImportCommand(g *globalFlags) *cobra.Command {
	var opts importer.Options
	var minConfidence int
	var asJSON, commit bool

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import bank statements and auto-match them",
		Long: "Import CSV bank statements and auto-match the accounts they touch.\n" +
			"Without file arguments every CSV in the import directory is imported\n" +
			"and moved to its processed subdirectory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app) error {
				fromDir := len(args) == 0
				paths := args
				dir := a.path(a.cfg.Import.Dir)
				if fromDir {
					found, err := importer.Scan(dir)
					if err != nil {
						return err
					}
					if len(found) == 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "No CSV files in %s\n", dir)
						return nil
					}
					for _, f := range found {
						paths = append(paths, f.Path)
					}
				}

				files := make([]importer.File, 0, len(paths))
				for _, p := range paths {
					f, err := os.Open(p)
					if err != nil {
						return fmt.Errorf("opening %s: %w", p, err)
					}
					defer f.Close()
					files = append(files, importer.File{Name: filepath.Base(p), Body: f})
				}

				rep, runErr := a.orchestrator.ImportAndReconcile(cmd.Context(), files, opts, thresholdFlag(cmd, minConfidence))
				if rep != nil {
					if asJSON {
						if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
							return err
						}
					} else {
						printReport(cmd.OutOrStdout(), rep)
					}
				}
				if runErr != nil {
					return runErr
				}

				var touched []string
				if fromDir {
					for _, f := range rep.Files {
						if f.Error != "" {
							continue
						}
						if err := importer.MarkProcessed(dir, f.Filename); err != nil {
							return err
						}
					}
					if rel, err := filepath.Rel(a.root, dir); err == nil {
						touched = append(touched, rel)
					}
				}
				if commit {
					return a.commit(fmt.Sprintf("import: %d file(s), %d matched", len(rep.Files), rep.Match.Matched), touched...)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.BankAccountID, "account", "", "bank account id the statements belong to")
	cmd.Flags().StringVar(&opts.AccountName, "account-name", "", "bank account name or IBAN the statements belong to")
	cmd.Flags().StringVar(&opts.Format, "format", "", "import format (default: the account's, else auto-detect)")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "auto-match threshold (default: thresholds.auto_confirm)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&commit, "commit", false, "commit processed files and the audit log to the project's git repository")

	return cmd
}

// commit records project files in git. It is a no-op outside a repository.
func (a *app) commit(message string, paths ...string) error {
	if !gitops.IsRepo(a.root) {
		a.log.Warn().Str("dir", a.root).Msg("project is not a git repository, nothing committed")
		return nil
	}
	if a.cfg.Events.AuditLog != "" {
		if rel, err := filepath.Rel(a.root, a.path(a.cfg.Events.AuditLog)); err == nil {
			if _, statErr := os.Stat(a.path(a.cfg.Events.AuditLog)); statErr == nil {
				paths = append(paths, rel)
			}
		}
	}
	if len(paths) == 0 {
		return nil
	}
	hash, err := gitops.Commit(a.root, message, gitops.DefaultAuthor, paths...)
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	if hash != "" {
		a.log.Info().Str("commit", hash).Msg("project changes committed")
	}
	return nil
}
