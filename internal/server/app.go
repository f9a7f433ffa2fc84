// Package server wires the storage service together: configuration, logger,
// identity database, object store, PAR registry and the services on top. It
// runs the abandoned-upload sweeper until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/access"
	"github.com/dmitrijs2005/gophdrive/internal/server/auth"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/drivestore"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/par"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/juju/clock"
	"github.com/zeebo/errs"
)

// Seams for tests.
var (
	openDB               = func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	newLogger            = logging.New
	newS3Store           = func(ctx context.Context, cfg objectstore.S3Config) (objectstore.Backend, error) {
		return objectstore.NewS3Store(ctx, cfg)
	}
)

var wallClock clock.Clock = clock.WallClock

type App struct {
	config    *config.Config
	logger    logging.Logger
	syncLog   func() error
	clock     clock.Clock
	db        *sql.DB
	registry  *par.BadgerRegistry
	pars      *par.Manager
	Storage   *services.StorageService
	Directory *services.DirectoryService
}

// NewApp validates c and builds every component. Whatever was opened before
// a failure is closed again.
func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, syncLog, err := newLogger(c.LogBackend)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	app := &App{config: c, logger: logger, syncLog: syncLog, clock: wallClock}
	defer func() {
		if err != nil {
			err = errs.Combine(err, app.Close())
		}
	}()

	app.db, err = openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	backend, err := app.openBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}
	keys, err := objectstore.NewKeys(c.KeyRoot)
	if err != nil {
		return nil, err
	}

	registryPath := c.PARRegistryPath
	if registryPath != "" {
		if registryPath, err = filex.EnsureDir(registryPath); err != nil {
			return nil, fmt.Errorf("par registry dir: %w", err)
		}
	}
	app.registry, err = par.OpenBadgerRegistry(registryPath)
	if err != nil {
		return nil, fmt.Errorf("par registry init error: %w", err)
	}
	app.pars = par.NewManager(app.registry, backend, app.clock,
		par.Config{MaxTTL: c.PARMaxValidityDuration, Grace: c.PARGrace}, logger)

	app.Directory = services.NewDirectoryService(app.db, rm, logger)
	app.Storage = services.NewStorageService(
		drivestore.New(backend, keys, logger),
		backend,
		keys,
		app.pars,
		access.NewResolver(app.Directory),
		auth.NewVerifier(app.Directory, app.clock),
		app.clock,
		services.StorageConfig{
			InlineThreshold: c.InlineThreshold,
			MaxFileSize:     c.MaxFileSize,
			PARValidity:     c.PARValidityDuration,
		},
		logger,
	)

	return app, nil
}

func (app *App) openBackend(ctx context.Context) (objectstore.Backend, error) {
	c := app.config
	if c.ObjectStore == config.ObjectStoreMemory {
		app.logger.Warn(ctx, "using in-memory object store, content is lost on exit")
		return objectstore.NewMemoryStoreWithClock(app.clock), nil
	}
	return newS3Store(ctx, objectstore.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runSweeper sweeps expired PARs every SweepInterval until ctx is done.
func (app *App) runSweeper(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-app.clock.After(app.config.SweepInterval):
		}

		n, err := app.pars.Sweep(ctx)
		if err != nil {
			app.logger.Error(ctx, "sweep failed", "error", err)
			continue
		}
		if n > 0 {
			app.logger.Info(ctx, "expired PARs swept", "count", n)
		}
	}
}

// Run blocks until ctx is cancelled or the process is signalled.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "object_store", app.config.ObjectStore)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runSweeper(ctx)
	}()

	wg.Wait()

	app.logger.Info(ctx, "App stopped")
}

// Close releases the registry and database and flushes the logger.
func (app *App) Close() error {
	var group errs.Group
	if app.registry != nil {
		group.Add(app.registry.Close())
	}
	if app.db != nil {
		group.Add(app.db.Close())
	}
	if app.syncLog != nil {
		group.Add(app.syncLog())
	}
	return group.Err()
}
