package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:     "recon",
		Short:   "Rent payment reconciliation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.config, "config", "c", ConfigFile, "project configuration file")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "environment file, relative to the config file")

	rootCmd.AddCommand(
		newInitCommand(),
		newImportCommand(g),
		newReconcileCommand(g),
		newSuggestCommand(g),
		newMatchCommand(g),
		newUnmatchCommand(g),
		newTransactionsCommand(g),
		newBatchesCommand(g),
		newChargesCommand(g),
		newServeCommand(g),
	)

	return rootCmd
}

// withApp opens the project for one command and closes it afterwards.
func withApp(cmd *cobra.Command, g *globalFlags, run func(a *app) error) error {
	a, err := openApp(cmd.Context(), g)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing project")
		}
	}()
	return run(a)
}
