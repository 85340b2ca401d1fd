package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/definition"
	"github.com/pitabwire/formengine/internal/invoker"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/internal/persistence"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/internal/store"
	"github.com/pitabwire/formengine/internal/transport"
	"github.com/pitabwire/formengine/internal/validation"
	"github.com/pitabwire/formengine/model"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve form definitions and form sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Step 1: Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Step 2: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "formengine", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 3: Load and validate form definitions.
	source := definition.NewSource(cfg.Definitions.Directories,
		definition.WithLogger(logger),
		definition.WithRecorder(metrics),
	)
	if err := source.Reload(); err != nil {
		return fmt.Errorf("definition loading failed: %w", err)
	}
	registry := source.Registry()

	// Step 4: Initialize the draft store.
	drafts, draftsCloser, err := buildDraftStore(ctx, cfg.Drafts, logger)
	if err != nil {
		return fmt.Errorf("draft store initialization failed: %w", err)
	}

	// Step 5: Initialize submission collaborators.
	backend, err := buildBackend(ctx, cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("submission store initialization failed: %w", err)
	}

	// Step 6: Build the evaluator over a cached submission index.
	cache := store.NewCachedIndex(backend.index, cfg.Submissions.ExistsCacheTTL).WithRecorder(metrics)
	evaluator := condition.NewEvaluator(
		condition.WithSubmissionIndex(cache),
		condition.WithLogger(logger),
		condition.WithRecorder(metrics),
	)
	if backend.validator == nil {
		backend.validator = validation.New(evaluator, logger)
	}

	// Step 7: Build the session manager.
	mode, err := session.ParseMode(cfg.Session.DefaultMode)
	if err != nil {
		return err
	}
	sessions := session.NewManager(session.Collaborators{
		Validator: backend.validator,
		Payments:  backend.payments,
		Submitter: store.InvalidatingSubmitter{Submitter: backend.submitter, Cache: cache},
		Fetcher:   backend.fetcher,
		Partial:   backend.partial,
		Drafts:    drafts,
	}, session.Config{
		Mode:             mode,
		AutosaveInterval: cfg.Session.AutosaveInterval,
		DraftTTL:         cfg.Session.DraftTTL,
	}, evaluator, logger, metrics)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		FormCount: registry.Len,
		Backend:   backend.health,
	}
	if hc, ok := drafts.(observability.HealthChecker); ok {
		readinessChecks.DraftStore = hc
	}
	if hc, ok := backend.submitter.(observability.HealthChecker); ok && backend.health == nil {
		readinessChecks.SubmissionStore = hc
	}

	deps := transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Tokens:        transport.NewSessionTokens(cfg.Auth),
		Forms:         registry,
		Sessions:      sessions,
		Evaluator:     evaluator,
		Metrics:       metrics,
		HealthHandler: observability.HandleHealth(),
		ReadyHandler:  observability.HandleReady(readinessChecks),
		Middleware:    []func(http.Handler) http.Handler{observability.TracingMiddleware},
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.Handler()
		deps.Middleware = append(deps.Middleware, metrics.MetricsMiddleware)
	}
	router := transport.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		go func() {
			if err := source.Watch(bgCtx); err != nil {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}
	go runSessionSweeper(bgCtx, sessions, cfg.Session, metrics, logger)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("forms", registry.Len()),
		zap.String("drafts", cfg.Drafts.Driver),
		zap.String("submissions", cfg.Submissions.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks, then flush drafts of live sessions.
	bgCancel()
	sessions.CloseAll()

	// Close stores.
	if draftsCloser != nil {
		draftsCloser()
	}
	if backend.closer != nil {
		backend.closer()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return serveErr
}

// buildDraftStore creates the local draft store based on config. The "none"
// driver disables autosave.
func buildDraftStore(ctx context.Context, cfg config.DraftStoreConfig, logger *zap.Logger) (persistence.DraftStore, func(), error) {
	switch cfg.Driver {
	case "none":
		logger.Info("autosave disabled, no draft store configured")
		return nil, nil, nil
	case "memory", "":
		logger.Info("using in-memory draft store")
		return persistence.NewMemoryDraftStore(), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("draft store: ping redis: %w", err)
		}
		logger.Info("using redis draft store", zap.String("addr", cfg.RedisAddr))
		return persistence.NewRedisDraftStore(client), func() { client.Close() }, nil
	case "sqlite":
		s, err := persistence.NewSQLiteDraftStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("draft store: %w", err)
		}
		logger.Info("using sqlite draft store", zap.String("path", cfg.SQLitePath))
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Driver)
	}
}

// backendSet holds the collaborators chosen by the submission driver.
type backendSet struct {
	submitter model.Submitter
	partial   model.PartialSubmitter
	fetcher   model.SubmissionFetcher
	index     model.SubmissionIndex
	payments  model.PaymentProvider
	validator model.FieldValidator
	health    observability.HealthChecker
	closer    func()
}

// buildBackend creates the submission collaborators based on config. The
// remote driver delegates validation and payments to the backend as well.
func buildBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (backendSet, error) {
	switch cfg.Submissions.Driver {
	case "memory", "":
		logger.Info("using in-memory submission store")
		s := store.NewMemorySubmissionStore()
		return backendSet{submitter: s, partial: s, fetcher: s, index: s}, nil

	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Submissions.DSN)
		if err != nil {
			return backendSet{}, fmt.Errorf("submission store: parse DSN: %w", err)
		}
		if cfg.Submissions.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Submissions.MaxConns
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return backendSet{}, fmt.Errorf("submission store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return backendSet{}, fmt.Errorf("submission store: ping: %w", err)
		}

		s := store.NewPgSubmissionStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return backendSet{}, fmt.Errorf("submission store: migrate: %w", err)
		}
		logger.Info("using postgres submission store")
		return backendSet{submitter: s, partial: s, fetcher: s, index: s, closer: pool.Close}, nil

	case "remote":
		c := invoker.NewClient(cfg.Backend, invoker.WithLogger(logger), invoker.WithRecorder(metrics))
		logger.Info("using remote backend", zap.String("base_url", cfg.Backend.BaseURL))
		return backendSet{
			submitter: c,
			partial:   c,
			fetcher:   c,
			index:     c,
			payments:  c,
			validator: c,
			health:    c,
		}, nil

	default:
		return backendSet{}, fmt.Errorf("unsupported submission driver: %q", cfg.Submissions.Driver)
	}
}

// runSessionSweeper periodically closes idle sessions and publishes the
// number of live ones.
func runSessionSweeper(ctx context.Context, sessions *session.Manager, cfg config.SessionConfig, metrics *observability.Metrics, logger *zap.Logger) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if cfg.IdleTimeout > 0 {
				if n := sessions.Sweep(now.Add(-cfg.IdleTimeout)); n > 0 {
					logger.Debug("idle sessions closed", zap.Int("count", n))
				}
			}
			metrics.SetActiveSessions(sessions.Len())
		}
	}
}
