package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bryanwahyu/tradelane/internal/application"
	appanalysis "github.com/bryanwahyu/tradelane/internal/application/analysis"
	"github.com/bryanwahyu/tradelane/internal/config"
	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/reference"
	"github.com/bryanwahyu/tradelane/internal/domain/risk"
	"github.com/bryanwahyu/tradelane/internal/domain/tariff"
	"github.com/bryanwahyu/tradelane/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/tradelane/internal/infra/db/mysql"
	"github.com/bryanwahyu/tradelane/internal/infra/db/postgres"
	"github.com/bryanwahyu/tradelane/internal/infra/flow"
	"github.com/bryanwahyu/tradelane/internal/infra/httpserver"
	"github.com/bryanwahyu/tradelane/internal/infra/memstore"
	"github.com/bryanwahyu/tradelane/internal/infra/refdata"
	minioStore "github.com/bryanwahyu/tradelane/internal/infra/storage"
	"github.com/bryanwahyu/tradelane/internal/logging"
	"github.com/bryanwahyu/tradelane/internal/metrics"
	"github.com/bryanwahyu/tradelane/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// reference tables are read once; nothing below mutates them
	ref, err := refdata.Load(cfg.Reference)
	if err != nil {
		return fmt.Errorf("reference data: %w", err)
	}
	stats := ref.Stats()
	logger.Info("reference data loaded",
		slog.Int("tariffs", stats.Tariffs),
		slog.Int("agreements", stats.Agreements),
		slog.Int("countries", stats.Countries),
	)

	riskEngine, err := risk.NewEngine(ref, resolveWeights(cfg.Risk, ref))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := &appanalysis.Service{
		Tariffs:    tariff.NewEngine(ref),
		Risk:       riskEngine,
		Visualizer: flow.New(ref),
		Store:      memstore.New(),
		Metrics:    m,
		Logger:     logger,
		Clock:      application.SystemClock{},
	}

	checkers := map[string]middleware.HealthChecker{
		"reference": middleware.CheckFunc(func(context.Context) error {
			if len(ref.SupportedHSCodes()) == 0 {
				return errors.New("tariff schedule is empty")
			}
			return nil
		}),
	}

	// init classifier
	if cfg.AI.Enabled {
		client := openai.NewClient(openai.Options{
			APIKey:       cfg.AI.APIKey,
			BaseURL:      cfg.AI.BaseURL,
			Model:        cfg.AI.Model,
			VisionModels: cfg.AI.VisionModels,
			ReportModel:  cfg.AI.ReportModel,
			Timeout:      cfg.AI.Timeout,
		}, ref.SupportedHSCodes())
		svc.Classifier = client
		svc.Reporter = client
	} else {
		logger.Warn("ai disabled; analyze requires hs_code and materials")
	}

	// init archive
	if cfg.Database.Driver != "" {
		db, archive, err := openArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		svc.Archive = archive
		checkers["database"] = middleware.PingChecker{Target: archive}
	}

	// init minio
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		svc.Flows = store
		checkers["minio"] = middleware.PingChecker{Target: store}
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Capacity > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond)
		defer limiter.Close()
	}

	handler := httpserver.NewRouter(svc, ref, httpserver.Options{
		Logger:       logger,
		Metrics:      m,
		Gatherer:     reg,
		APIKeys:      cfg.Auth.APIKeys,
		Limiter:      limiter,
		CORSOrigins:  cfg.Server.CORSOrigins,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Checkers:     checkers,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// let archive and export writes finish before the db closes
		svc.Wait()
		return err
	})
	return g.Wait()
}

// resolveWeights fills the default country risk from the table when the
// config leaves it at zero.
func resolveWeights(w risk.Weights, ref *reference.Store) risk.Weights {
	if w.DefaultCountryRisk != 0 {
		return w
	}
	if v, ok := ref.DefaultCountryRisk(); ok {
		w.DefaultCountryRisk = v
		return w
	}
	w.DefaultCountryRisk = risk.DefaultWeights().DefaultCountryRisk
	return w
}

type archiveRepo interface {
	analysis.Archive
	middleware.Pinger
}

func openArchive(ctx context.Context, cfg *config.Config) (*sql.DB, archiveRepo, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, mysqlp.DSN(cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name))
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := mysqlp.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("mysql schema: %w", err)
			}
		}
		return db, mysqlp.NewAnalysisRepository(db), nil
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := postgres.EnsureSchema(ctx, db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("postgres schema: %w", err)
			}
		}
		return db, postgres.NewAnalysisRepository(db), nil
	}
}
