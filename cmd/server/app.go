package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kwestin/docsmith-api/internal/api"
	"github.com/kwestin/docsmith-api/internal/auth"
	"github.com/kwestin/docsmith-api/internal/config"
	"github.com/kwestin/docsmith-api/internal/events"
	"github.com/kwestin/docsmith-api/internal/platform/gemini"
	"github.com/kwestin/docsmith-api/internal/platform/logger"
	"github.com/kwestin/docsmith-api/internal/platform/postgres"
	"github.com/kwestin/docsmith-api/internal/platform/worker"
	"github.com/kwestin/docsmith-api/internal/service"
	"github.com/kwestin/docsmith-api/internal/task"
)

// application holds the fully wired server and its lifecycle handles.
type application struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	runner *task.TaskRunner
	server *http.Server
}

// newApplication wires every component in dependency order: config,
// logger, database, stores, external clients, task runner, services,
// handlers, router.
func newApplication() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	db, err := setupDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	if err := postgres.MigrateUp(db); err != nil {
		return nil, err
	}

	batchStore := postgres.NewPostgresBatchStore(db, log)
	sourceStore := postgres.NewPostgresSourceStore(db, log)
	assetStore := postgres.NewPostgresAssetStore(db, log)
	deliverableStore := postgres.NewPostgresDeliverableStore(db, log)
	taskStore := postgres.NewPostgresTaskStore(db, log)

	workerClient := worker.NewClient(cfg.Worker, log)

	enricher, err := gemini.NewEnricher(context.Background(), log, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create enricher: %w", err)
	}

	taskFactory := task.NewAssetEnrichmentTaskFactory(
		sourceStore, assetStore, batchStore, enricher, enricher, log)

	runner := task.NewTaskRunner(taskStore, task.TaskRunnerConfig{
		WorkerCount:            cfg.Task.WorkerCount,
		QueueSize:              cfg.Task.QueueSize,
		StuckTaskAge:           cfg.Task.StuckTaskAge,
		StuckTaskCheckInterval: cfg.Task.StuckTaskCheckInterval,
	}, log)
	runner.RegisterRehydrator(task.TaskTypeAssetEnrichment, taskFactory.Rehydrate)

	emitter := events.NewInMemoryEventEmitter(log)
	emitter.RegisterHandler(task.NewEnrichmentEventHandler(taskFactory, runner, log))

	callbackService := service.NewCallbackService(
		batchStore, sourceStore, assetStore, deliverableStore, emitter, log)
	batchService := service.NewBatchService(
		db, batchStore, sourceStore, assetStore, workerClient, log,
		cfg.Worker.MaxConcurrentSubmissions)
	generationService := service.NewGenerationService(
		deliverableStore, assetStore, workerClient, log)
	reconcileService := service.NewReconcileService(
		deliverableStore, sourceStore, workerClient, callbackService, log)

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	router := newRouter(routerDeps{
		verifier:    verifier,
		webhook:     api.NewWebhookHandler(callbackService, cfg.Worker.WebhookSecret, log),
		batch:       api.NewBatchHandler(batchService, log),
		deliverable: api.NewDeliverableHandler(generationService, reconcileService, log),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:    cfg,
		logger: log,
		db:     db,
		runner: runner,
		server: server,
	}, nil
}

// Run starts the task runner and HTTP server, then blocks until the
// context is cancelled and everything has shut down.
func (a *application) Run(ctx context.Context) error {
	if err := a.runner.Start(); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.runner.Stop()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}

	a.runner.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
	}
	return nil
}
