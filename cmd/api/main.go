package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-intake/internal/api/http"
	"github.com/spec-kit/ticket-intake/internal/api/http/handlers"
	"github.com/spec-kit/ticket-intake/internal/auth"
	"github.com/spec-kit/ticket-intake/internal/config"
	"github.com/spec-kit/ticket-intake/internal/events"
	"github.com/spec-kit/ticket-intake/internal/observability"
	"github.com/spec-kit/ticket-intake/internal/persistence"
	"github.com/spec-kit/ticket-intake/internal/repository"
	"github.com/spec-kit/ticket-intake/internal/service"
	"github.com/spec-kit/ticket-intake/internal/tracker"
	"github.com/spec-kit/ticket-intake/internal/worker"
)

func main() {
	var (
		envFile      string
		catalogPath  string
		hashAdminKey string
		issueToken   string
		tokenTTL     time.Duration
	)
	flagSet := pflag.NewFlagSet("ticket-intake", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env)")
	flagSet.StringVar(&catalogPath, "catalog", "", "tracker catalog YAML (overrides TRACKER_CATALOG_PATH)")
	flagSet.StringVar(&hashAdminKey, "hash-admin-key", "", "print the bcrypt hash of an admin key and exit")
	flagSet.StringVar(&issueToken, "issue-token", "", "print a service token for the named transport and exit")
	flagSet.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by --issue-token")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatalf("parse flags: %v", err)
	}

	if hashAdminKey != "" {
		hash, err := auth.HashAdminKey(hashAdminKey)
		if err != nil {
			log.Fatalf("hash admin key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if catalogPath != "" {
		cfg.Tracker.CatalogPath = catalogPath
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, tokenTTL)
	if issueToken != "" {
		token, expires, err := tokens.GenerateToken(issueToken, auth.ScopeEvents)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("%s\n# expires %s\n", token, expires.UTC().Format(time.RFC3339))
		return
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	readiness := map[string]handlers.Pinger{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, cfg.Store.Backend != config.StoreBackendMemory, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() {
		readiness["postgres"] = pg
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
	}

	var (
		sessionRepo repository.SessionRepository
		counterRepo repository.RateCounterRepository
		recordRepo  repository.TicketRecordRepository
	)
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		rdb, err := persistence.NewRedis(ctx, cfg.Redis, true, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		readiness["redis"] = rdb
		sessionRepo = repository.NewRedisSessionRepository(rdb.Client)
		counterRepo = repository.NewRedisRateCounterRepository(rdb.Client)
	case config.StoreBackendPostgres:
		sessionRepo = repository.NewSessionRepository(pg.PoolHandle())
		counterRepo = repository.NewRateCounterRepository(pg.PoolHandle())
	default:
		sessionRepo = repository.NewMemorySessionRepository()
		counterRepo = repository.NewMemoryRateCounterRepository()
	}
	if pg.Enabled() {
		recordRepo = repository.NewTicketRecordRepository(pg.PoolHandle())
	} else {
		logger.Warn("ticket records are kept in memory and lost on restart; duplicate checks only cover this process")
		recordRepo = repository.NewMemoryTicketRecordRepository()
	}
	logger.Info("storage configured",
		zap.String("backend", cfg.Store.Backend),
		zap.Bool("durable_records", pg.Enabled()),
	)

	catalog, err := tracker.LoadCatalog(cfg.Tracker.CatalogPath)
	if err != nil {
		logger.Warn("tracker catalog unavailable; starting empty",
			zap.String("path", cfg.Tracker.CatalogPath), zap.Error(err))
		if catalog, err = tracker.NewCatalog(tracker.CatalogFile{}); err != nil {
			logger.Fatal("failed to build empty catalog", zap.Error(err))
		}
	}
	trackerClient := tracker.NewClient(tracker.ClientConfig{
		APIURL:  cfg.Tracker.APIURL,
		APIKey:  cfg.Tracker.APIKey,
		TeamID:  cfg.Tracker.TeamID,
		Timeout: cfg.Tracker.Timeout(),
	}, catalog, logger, metrics)
	if cfg.Tracker.APIKey != "" && cfg.Tracker.TeamID != "" {
		if err := catalog.Refresh(ctx, trackerClient); err != nil {
			logger.Warn("initial catalog refresh failed", zap.Error(err))
		}
	} else {
		logger.Warn("TRACKER_API_KEY or TRACKER_TEAM_ID not set; ticket submission will fail")
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	closeNotifiers, err := worker.StartNotificationWorker(dispatcher, cfg.Notification, logger)
	if err != nil {
		logger.Fatal("failed to start notifiers", zap.Error(err))
	}
	defer closeNotifiers()

	sessions := service.NewSessionManager(service.SessionManagerDependencies{
		Sessions: sessionRepo,
		Timeout:  cfg.Session.Timeout(),
		Logger:   logger,
		Metrics:  metrics,
	})
	limiter := service.NewRateLimiter(counterRepo, cfg.RateLimit.MaxPerDay, logger)
	workflow := service.NewWorkflow(service.WorkflowDependencies{
		Sessions:        sessions,
		RateLimiter:     limiter,
		Duplicates:      service.NewDuplicateDetector(recordRepo, cfg.Duplicate.Window(), nil),
		Records:         recordRepo,
		Gateway:         trackerClient,
		Catalog:         catalog,
		Dispatcher:      dispatcher,
		ReviewerChannel: cfg.Notification.ReviewerChannel,
		Logger:          logger,
		Metrics:         metrics,
	})

	scheduler := worker.NewScheduler(logger)
	scheduler.Every(ctx, "session_sweep", cfg.Session.SweepInterval(), worker.SessionSweepJob(sessions, logger))
	scheduler.Daily(ctx, "rate_limit_reset", cfg.RateLimit.ResetHourUTC, worker.RateResetJob(limiter))
	if cfg.Tracker.APIKey != "" && cfg.Tracker.TeamID != "" {
		scheduler.Every(ctx, "catalog_refresh", cfg.Tracker.RefreshInterval(), worker.CatalogRefreshJob(catalog, trackerClient))
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Events: handlers.NewEventsHandler(workflow),
		Admin: handlers.NewAdminHandler(handlers.AdminDependencies{
			Workflow:      workflow,
			RateLimiter:   limiter,
			Sessions:      sessions,
			Catalog:       catalog,
			CatalogSource: trackerClient,
		}),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		AdminGuard:     auth.NewAdminKeyGuard(cfg.Auth.AdminKeyHash),
		Metrics:        metrics,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Error("fiber listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	scheduler.Wait()
}
