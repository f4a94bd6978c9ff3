// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/spacetraveling/internal/api"
	"github.com/starford/spacetraveling/internal/apperr"
	"github.com/starford/spacetraveling/internal/blog"
	"github.com/starford/spacetraveling/internal/build"
	"github.com/starford/spacetraveling/internal/mcpserver"
	"github.com/starford/spacetraveling/internal/normalize"
	"github.com/starford/spacetraveling/internal/prismic"
	"github.com/starford/spacetraveling/internal/site"
	"github.com/starford/spacetraveling/internal/snapshot"
	"github.com/starford/spacetraveling/internal/sse"
	"github.com/starford/spacetraveling/internal/storage"
)

var errConfigRequired = errors.New("config is required")

// runtime holds the pieces every command shares.
type runtime struct {
	cfg        *Config
	logger     *slog.Logger
	repo       *prismic.Client
	db         *snapshot.DB
	normalizer *normalize.Normalizer
}

func newRuntime(cfg *Config, logOut io.Writer) (*runtime, error) {
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("repository", cfg.Repository.Endpoint),
		slog.String("document_type", cfg.Repository.DocumentType),
		slog.String("fallback", cfg.Paths.Fallback),
		slog.String("snapshot_path", cfg.Snapshot.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	repo, err := prismic.New(prismic.Config{
		Endpoint:    cfg.Repository.Endpoint,
		AccessToken: cfg.Repository.AccessToken,
		Timeout:     cfg.Repository.Timeout,
		MaxRetries:  cfg.Repository.MaxRetries,
		Orderings:   cfg.Repository.Orderings,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init repository client: %w", err)
	}

	db, err := snapshot.Open(cfg.Snapshot.Path)
	if err != nil {
		return nil, fmt.Errorf("init snapshot db: %w", err)
	}

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		db:         db,
		normalizer: normalize.New(cfg.Locale),
	}, nil
}

func (rt *runtime) build(ctx context.Context) (*build.Report, error) {
	out, err := storage.NewFS(rt.cfg.Build.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("init output dir: %w", err)
	}
	renderer, err := site.New()
	if err != nil {
		return nil, err
	}
	return build.Build(ctx, build.Options{
		Repo:            rt.repo,
		DocType:         rt.cfg.Repository.DocumentType,
		ListingPageSize: rt.cfg.Listing.PageSize,
		PathsPageSize:   rt.cfg.Paths.PageSize,
		Fallback:        rt.cfg.Paths.Policy(),
		Concurrency:     rt.cfg.Paths.BuildConcurrency,
		Normalizer:      rt.normalizer,
		Store:           rt.db,
		Output:          out,
		Site:            renderer,
		Logger:          rt.logger,
	})
}

func (rt *runtime) service(onChange func(kind, slug string)) *blog.Service {
	return blog.NewService(rt.repo, blog.Options{
		DocType:         rt.cfg.Repository.DocumentType,
		ListingPageSize: rt.cfg.Listing.PageSize,
		Incremental:     rt.cfg.Listing.Incremental,
		SessionTTL:      rt.cfg.Listing.SessionTTL,
		MaxSessions:     rt.cfg.Listing.MaxSessions,
		Fallback:        rt.cfg.Paths.Policy(),
		FetchTimeout:    rt.cfg.Repository.Timeout,
		Normalizer:      rt.normalizer,
		Logger:          rt.logger,
		OnChange:        onChange,
	})
}

// loadLatest installs the newest snapshot. With build.on_start and no
// snapshot yet, a build runs first.
func (rt *runtime) loadLatest(ctx context.Context, svc *blog.Service) error {
	b, err := rt.db.LatestBuild()
	if errors.Is(err, apperr.ErrNotFound) && rt.cfg.Build.OnStart {
		rt.logger.Info("No snapshot found, building")
		if _, berr := rt.build(ctx); berr != nil {
			rt.logger.Warn("initial build incomplete", slog.String("error", berr.Error()))
		}
		b, err = rt.db.LatestBuild()
	}
	if errors.Is(err, apperr.ErrNotFound) {
		rt.logger.Warn("No snapshot loaded, serving live")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	svc.Load(b)
	return nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := newRuntime(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.db.Close()
	logger := rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := rt.service(broker.PublishPostEvent)
	defer svc.Close()

	if err := rt.loadLatest(ctx, svc); err != nil {
		return err
	}

	renderer, err := site.New()
	if err != nil {
		return err
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !svc.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"no snapshot"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/", api.NewRouter(svc, renderer, cfg.Paths.Revalidate, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Reload when a separate build process commits a snapshot.
	g.Go(func() error {
		err := snapshot.Watch(gCtx, rt.db, logger, func(b *snapshot.Build) {
			svc.Load(b)
			broker.PublishBuild(b.ID, len(b.Posts))
		})
		if err != nil {
			logger.Warn("snapshot watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher exits with the
// server.
var errShutdown = errors.New("shutdown")

// Build runs one build: snapshot into the database, pages into the output
// directory. A partial build returns an error after committing the good
// records.
func Build(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := newRuntime(app.config, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	report, err := rt.build(ctx)
	if report != nil {
		rt.logger.Info("Build finished",
			slog.Int64("build", report.BuildID),
			slog.Int("listing", report.Listing),
			slog.Int("prerendered", len(report.Prerendered)),
			slog.Any("excluded", report.Excluded),
			slog.Int("written", report.Written),
			slog.Int("removed", report.Removed))
	}
	return err
}

// ServeMCP serves the MCP tools over stdio. Logs go to stderr so they do
// not corrupt the protocol stream.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := newRuntime(app.config, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.db.Close()

	svc := rt.service(nil)
	defer svc.Close()
	if err := rt.loadLatest(ctx, svc); err != nil {
		return err
	}
	return mcpserver.New(svc, app.version).ServeStdio()
}
