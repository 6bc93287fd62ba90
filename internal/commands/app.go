package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/cleared-dev/recon/internal/archive"
	"github.com/cleared-dev/recon/internal/auditlog"
	"github.com/cleared-dev/recon/internal/banklink"
	"github.com/cleared-dev/recon/internal/config"
	"github.com/cleared-dev/recon/internal/events"
	"github.com/cleared-dev/recon/internal/importer"
	"github.com/cleared-dev/recon/internal/ledger"
	"github.com/cleared-dev/recon/internal/logger"
	"github.com/cleared-dev/recon/internal/matching"
	"github.com/cleared-dev/recon/internal/model"
	"github.com/cleared-dev/recon/internal/reconcile"
	"github.com/cleared-dev/recon/internal/store"
	"github.com/cleared-dev/recon/internal/store/memory"
	"github.com/cleared-dev/recon/internal/store/postgres"
)

// ConfigFile is the project configuration file name.
const ConfigFile = "recon.yaml"

// globalFlags are the persistent root flags.
type globalFlags struct {
	config  string
	envFile string
}

// app holds the services one command invocation works with.
type app struct {
	root string
	cfg  *config.Config
	log  zerolog.Logger

	store    store.Store
	ledger   ledger.Ledger
	memory   *ledger.Memory   // set for the memory store
	postgres *ledger.Postgres // set for the postgres store

	importer     *importer.Importer
	service      *reconcile.Service
	links        *banklink.Manager
	feed         *banklink.StaticFeed
	orchestrator *reconcile.Orchestrator

	closers []func() error
}

// openApp loads the project configuration and wires every service.
func openApp(ctx context.Context, g *globalFlags) (*app, error) {
	path, err := filepath.Abs(g.config)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	envFile := g.envFile
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(filepath.Dir(path), envFile)
	}
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s:\n%w", filepath.Base(path), err)
	}

	a := &app{
		root: filepath.Dir(path),
		cfg:  cfg,
		log:  logger.New(cfg.Log.Level, cfg.Log.Console),
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// path resolves p against the project root.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func (a *app) wire(ctx context.Context) error {
	if err := a.openStores(ctx); err != nil {
		return err
	}
	observer := a.observer()

	engine, err := matching.NewEngine(a.cfg.Matching)
	if err != nil {
		return fmt.Errorf("creating matching engine: %w", err)
	}
	th := a.cfg.Thresholds
	a.service = reconcile.NewService(a.store, a.ledger, engine, a.cfg, reconcile.Thresholds{
		AutoConfirm:      th.AutoConfirm,
		ReviewFlag:       th.ReviewFlag,
		AmbiguityEpsilon: th.AmbiguityEpsilon,
	}, a.log).WithObserver(observer)

	a.importer = importer.New(a.store, a.cfg, importer.Config{
		ChunkSize:     a.cfg.Import.ChunkSize,
		Workers:       a.cfg.Import.Workers,
		DefaultFormat: a.cfg.Import.DefaultFormat,
	}, a.log).WithObserver(observer)
	arch, err := a.archive(ctx)
	if err != nil {
		return err
	}
	if arch != nil {
		a.importer.WithArchive(arch)
	}

	// No provider integration ships with recon; links sync from a feed
	// that the embedding program fills.
	a.feed = banklink.NewStaticFeed()
	a.links = banklink.NewManager(a.store, a.feed, a.cfg, a.cfg.BankLink.Timeout, a.log).
		WithChunkSize(a.cfg.Import.ChunkSize).
		WithObserver(observer)

	a.orchestrator = reconcile.NewOrchestrator(a.importer, a.links, a.service, a.log).WithObserver(observer)
	return nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.postgres = ledger.NewPostgres(pg.DB())
		if err := a.postgres.Migrate(ctx); err != nil {
			return err
		}
		a.ledger = a.postgres
	default:
		a.store = memory.New()
		a.memory = ledger.NewMemory()
		if a.cfg.ChargesFile != "" {
			charges, err := readChargesFile(a.path(a.cfg.ChargesFile))
			if err != nil {
				return err
			}
			a.memory.Seed(charges...)
		}
		a.ledger = a.memory
	}
	return nil
}

func (a *app) observer() events.Observer {
	obs := events.Multi{events.NewLogObserver(a.log)}
	if brokers := a.cfg.Events.KafkaBrokers; len(brokers) > 0 {
		p := events.NewKafkaPublisher(brokers, a.cfg.Events.KafkaTopic, a.log)
		obs = append(obs, p)
		a.closers = append(a.closers, p.Close)
	}
	if a.cfg.Events.AuditLog != "" {
		obs = append(obs, auditlog.NewObserver(a.path(a.cfg.Events.AuditLog), a.log))
	}
	return obs
}

func (a *app) archive(ctx context.Context) (archive.Archiver, error) {
	ac := a.cfg.Archive
	switch {
	case ac.Bucket != "":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return archive.NewGCS(client, ac.Bucket, ac.Prefix), nil
	case ac.Dir != "":
		return archive.NewLocal(a.path(ac.Dir)), nil
	}
	return nil, nil
}

// requirePersistent fails commands that read state earlier runs wrote.
func (a *app) requirePersistent(command string) error {
	if a.postgres == nil {
		return fmt.Errorf("%s needs a persistent store: set store.driver to postgres in %s", command, ConfigFile)
	}
	return nil
}

func (a *app) now() time.Time { return time.Now().UTC() }

// Close releases connections in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func readChargesFile(path string) ([]model.Charge, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening charges file: %w", err)
	}
	defer f.Close()
	charges, err := ledger.ReadCharges(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return charges, nil
}
