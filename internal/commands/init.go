package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/recon/internal/auditlog"
	"github.com/cleared-dev/recon/internal/config"
	"github.com/cleared-dev/recon/internal/gitops"
	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/model"
)

const chargesFile = "charges.csv"

func newInitCommand() *cobra.Command {
	var name, driver, dsn string
	var git bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new recon project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.OutOrStdout(), absDir, initOptions{name: name, driver: driver, dsn: dsn, git: git})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "organization name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&driver, "store", "memory", "store driver: memory or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres connection string")
	cmd.Flags().BoolVar(&git, "git", false, "put the project under git")

	return cmd
}

type initOptions struct {
	name   string
	driver string
	dsn    string
	git    bool
}

func runInit(out io.Writer, dir string, opts initOptions) error {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		return fmt.Errorf("%s already exists in %s", ConfigFile, dir)
	}

	cfg := config.Default(opts.name)
	cfg.Store = config.StoreConfig{Driver: opts.driver, DSN: opts.dsn}
	cfg.ChargesFile = chargesFile
	cfg.Events.AuditLog = auditlog.FileName
	if err := cfg.Validate(); err != nil {
		return err
	}

	dirs := []string{
		cfg.Import.Dir,
		filepath.Join(cfg.Import.Dir, "processed"),
		cfg.Archive.Dir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(filepath.Join(dir, ConfigFile), cfg); err != nil {
		return err
	}

	var charges bytes.Buffer
	if err := ledger.WriteCharges(&charges, []model.Charge{}); err != nil {
		return fmt.Errorf("writing charges file: %w", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{chargesFile, charges.Bytes()},
		{".gitignore", []byte(".env\n" + cfg.Archive.Dir + "/\n")},
		{filepath.Join(cfg.Import.Dir, ".gitkeep"), nil},
		{filepath.Join(cfg.Import.Dir, "processed", ".gitkeep"), nil},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", f.name, err)
		}
	}

	if !opts.git {
		fmt.Fprintf(out, "Initialized recon project at %s\n", dir)
		return nil
	}
	if err := gitops.Init(dir); err != nil {
		return err
	}
	hash, err := gitops.CommitAll(dir, "init: Initialize "+opts.name, gitops.DefaultAuthor)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}
	fmt.Fprintf(out, "Initialized recon project at %s (%s)\n", dir, hash)
	return nil
}
