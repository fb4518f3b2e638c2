// Package app is the wiring layer between the CLI and the publication
// pipeline. It constructs every collaborator from config, owns the process
// lifecycle and closes resources in reverse order on shutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"fedipost/internal/atproto"
	"fedipost/internal/config"
	"fedipost/internal/database"
	"fedipost/internal/database/migrations"
	"fedipost/internal/fediverse"
	"fedipost/internal/pipeline"
	"fedipost/internal/queue"
	"fedipost/internal/render"
	"fedipost/internal/server"
)

// App holds the fully wired service graph of one fedipost process.
type App struct {
	cfg      *config.Config
	store    pipeline.Store
	queue    queue.Queue
	delivery *fediverse.Delivery
	service  *pipeline.Service
	server   *server.Server
	logger   pipeline.Logger
	logFile  *os.File
}

// NewApp creates a fully wired App from the given config. The caller must
// call Close when done.
func NewApp(cfg *config.Config) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}

	if cfg.Database.Type == "sqlite" {
		db, err := database.OpenConnection(filepath.Join(cfg.Database.DataDir, "fedipost.db"))
		if err == nil {
			err = migrations.CheckDBMigrationStatus(db)
			db.Close()
		}
		if err != nil {
			store.Close()
			logFile.Close()
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
	}

	clock := pipeline.RealClock{}
	q, err := queue.NewQueueFromConfig(cfg.Queue, logger, clock)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating queue: %w", err)
	}

	keyPEM, err := os.ReadFile(cfg.Federation.PrivateKeyPath)
	if err != nil {
		q.Close()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("reading signing key: %w", err)
	}
	remote, err := fediverse.NewClient(keyPEM, cfg.Federation.ProfileURLBase, logger)
	if err != nil {
		q.Close()
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating federation client: %w", err)
	}
	delivery := fediverse.NewDelivery(remote, store, cfg.Federation.RelayInboxes, logger)

	idgen := pipeline.UUIDGenerator{}
	svc := pipeline.NewService(
		store,
		render.NewMarkdownRenderer(),
		render.NewTagSanitizer(),
		q,
		delivery,
		remote,
		atproto.NewClient(store, logger, clock, idgen),
		logger,
		clock,
		idgen,
		pipeline.Options{
			ProfileURLBase:      cfg.Federation.ProfileURLBase,
			PartnerDomainSuffix: cfg.Federation.PartnerDomainSuffix,
			PartnerOptionName:   cfg.Federation.PartnerOptionName,
		},
	)

	return &App{
		cfg:      cfg,
		store:    store,
		queue:    q,
		delivery: delivery,
		service:  svc,
		server:   server.New(svc, store, logger, cfg.Server.Addr),
		logger:   logger,
		logFile:  logFile,
	}, nil
}

// Run starts the HTTP server and the outbound delivery worker and blocks
// until ctx is cancelled or either of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.queue.Run(gctx, a.delivery); err != nil && err != context.Canceled {
			return fmt.Errorf("outbound worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases all resources in reverse construction order.
func (a *App) Close() error {
	var firstErr error
	if err := a.queue.Close(); err != nil {
		firstErr = fmt.Errorf("closing queue: %w", err)
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
