package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vantagesearch/client/internal/api"
	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/config"
	"github.com/vantagesearch/client/internal/db"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/handlers"
	"github.com/vantagesearch/client/internal/library"
	"github.com/vantagesearch/client/internal/media"
	"github.com/vantagesearch/client/internal/middleware"
	"github.com/vantagesearch/client/internal/repositories"
	"github.com/vantagesearch/client/internal/search"
	"github.com/vantagesearch/client/internal/storage"
)

// exportLog is satisfied by the SQL export repositories.
type exportLog interface {
	export.Reporter
	handlers.ExportLog
}

// dependencies holds the wired client core used by every command.
type dependencies struct {
	cfg    config.Config
	logger *slog.Logger

	sessions *auth.SessionStore
	client   *api.Client
	broker   *media.Broker
	library  *library.Controller
	stats    *library.StatsMonitor
	search   *search.Controller

	// exports is nil for the memory backend.
	exports exportLog
}

// buildDependencies wires together the concrete implementations behind the CLI and companion API.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (*dependencies, func(context.Context) error, error) {
	var closers []func() error
	cleanup := func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	limiter := middleware.NewHostRateLimiter(cfg.RequestsPerSecond, time.Second, cfg.RequestBurst, 5*time.Minute)
	httpClient := &http.Client{
		Transport: middleware.Chain(http.DefaultTransport,
			middleware.Logging(logger),
			middleware.RateLimit(limiter),
		),
	}

	authClient, err := api.NewAuthClient(cfg.APIBaseURL, httpClient, cfg.Timeouts)
	if err != nil {
		return nil, nil, err
	}

	state, exports, closeState, err := openStateBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeState != nil {
		closers = append(closers, closeState)
	}

	if cfg.StateSecret != "" {
		sealed, err := auth.NewSealedStore(state, cfg.StateSecret)
		if err != nil {
			_ = cleanup(ctx)
			return nil, nil, err
		}
		state = sealed
	}

	sessions := auth.NewSessionStore(authClient, state, logger)

	client, err := api.NewClient(cfg.APIBaseURL, httpClient, cfg.Timeouts, sessions)
	if err != nil {
		_ = cleanup(ctx)
		return nil, nil, err
	}

	broker := media.NewBroker(client, sessions, cfg.GrantTTL, logger)
	closers = append(closers, func() error {
		broker.Close()
		return nil
	})

	lib := library.NewController(client, sessions, library.Options{
		PollInterval:       cfg.PollInterval,
		UploadRefreshDelay: cfg.UploadRefreshDelay,
	}, logger)
	stats := library.NewStatsMonitor(client, sessions, cfg.StatsPollInterval, logger)
	closers = append(closers, func() error {
		lib.Stop()
		stats.Stop()
		return nil
	})

	return &dependencies{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		client:   client,
		broker:   broker,
		library:  lib,
		stats:    stats,
		search:   search.NewController(client, cfg.SearchLimit, logger),
		exports:  exports,
	}, cleanup, nil
}

func openStateBackend(ctx context.Context, cfg config.Config) (auth.StateStore, exportLog, func() error, error) {
	switch cfg.StateBackend {
	case config.StateBackendMemory:
		return auth.NewInMemoryStateStore(), nil, nil, nil
	case config.StateBackendSQLite, "":
		conn, err := openSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return repositories.NewSQLiteStateStore(conn), repositories.NewSQLiteExportRepository(conn), conn.Close, nil
	case config.StateBackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closePool := func() error {
			pool.Close()
			return nil
		}
		return repositories.NewPostgresStateStore(pool), repositories.NewPostgresExportRepository(pool), closePool, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := db.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := repositories.InitSQLiteSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// newAssetStorage selects S3 when a bucket is configured and the export directory otherwise.
func newAssetStorage(ctx context.Context, cfg config.Config) (export.AssetStorage, error) {
	if cfg.ObjectStore.Bucket != "" {
		return storage.NewS3Storage(ctx, cfg.ObjectStore)
	}
	return storage.NewLocalStorage(cfg.Export.Dir)
}

// newExporter starts an export worker pool that reports to the export log and then to report.
func (d *dependencies) newExporter(ctx context.Context, report export.ReporterFunc) (*export.Exporter, error) {
	assets, err := newAssetStorage(ctx, d.cfg)
	if err != nil {
		return nil, err
	}

	reporter := export.ReporterFunc(func(ctx context.Context, result export.Result) error {
		var errs []error
		if d.exports != nil {
			errs = append(errs, d.exports.Report(ctx, result))
		}
		if report != nil {
			errs = append(errs, report(ctx, result))
		}
		return errors.Join(errs...)
	})

	return export.New(d.broker, d.client, assets, reporter, export.Config{
		Workers:   d.cfg.Export.Workers,
		QueueSize: d.cfg.Export.QueueSize,
		Timeout:   d.cfg.Timeouts.Media,
	}, d.logger), nil
}

// routes assembles the companion API dependencies.
func (d *dependencies) routes(exporter *export.Exporter) handlers.Dependencies {
	deps := handlers.Dependencies{
		Session: d.sessions,
		Library: d.library,
		Stats:   d.stats,
		Search:  d.search,
		Limiter: middleware.NewHostRateLimiter(d.cfg.RequestsPerSecond, time.Second, d.cfg.RequestBurst, 5*time.Minute),
	}
	if exporter != nil {
		deps.Exports = exporter
	}
	if d.exports != nil {
		deps.ExportLog = d.exports
	}
	return deps
}
