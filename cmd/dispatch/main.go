package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/activity"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/api"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/handler"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/broker"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/pii"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/repository/memory"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/fleet-dispatch/internal/adapter/repository/redis"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/repository/wal"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/apikey"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/config"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/logger"
	"github.com/V4T54L/fleet-dispatch/internal/usecase"
)

const redisHealthInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	m := metrics.NewDispatchMetrics(prometheus.DefaultRegisterer)
	clk := clock.Real()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database and Redis Connections ---
	var db *sql.DB
	if cfg.StoreBackend == config.BackendPostgres || cfg.PlayerStore == config.BackendPostgres {
		db, err = postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				logger.Error("failed to apply schema", "error", err)
				os.Exit(1)
			}
			logger.Info("database schema applied")
		}
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = redisrepo.NewClient(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, player reports will be buffered to the WAL", "error", err)
		}
	}

	// --- Initialize Repositories ---
	var (
		tenantRepo  domain.TenantRepository
		commandRepo domain.CommandRepository
		playerRepo  domain.PlayerRepository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		tenantRepo = postgres.NewTenantRepository(db, logger)
		commandRepo = postgres.NewCommandRepository(db, logger)
	default:
		logger.Warn("using in-memory tenant and command stores; state is lost on restart")
		tenantRepo = memory.NewTenantRepository()
		commandRepo = memory.NewCommandRepository()
	}

	switch cfg.PlayerStore {
	case config.BackendPostgres:
		playerRepo = postgres.NewPlayerRepository(db, logger)
	case config.BackendRedis:
		walRepo, err := wal.NewWALRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
		if err != nil {
			logger.Error("failed to initialize WAL repository", "error", err)
			os.Exit(1)
		}
		defer walRepo.Close()

		redisPlayers := redisrepo.NewPlayerRepository(redisClient, logger, walRepo, m)
		if err := redisPlayers.ReplayWAL(ctx); err != nil {
			logger.Warn("could not replay WAL at start-up, will retry on recovery", "error", err)
		}
		// Start Redis health check and WAL replay loop
		go redisPlayers.StartHealthCheck(ctx, redisHealthInterval)
		playerRepo = redisPlayers
	default:
		playerRepo = memory.NewPlayerRepository()
	}

	// --- Activity Sinks ---
	sseBroker := handler.NewSSEBroker(ctx, logger)
	sinks := []domain.ActivityPublisher{sseBroker}

	var activityReader domain.ActivityReader
	if redisClient != nil {
		activityRepo := redisrepo.NewActivityRepository(redisClient, logger, cfg.ActivityStream, cfg.ActivityStreamMaxLen)
		sinks = append(sinks, activityRepo)
		activityReader = activityRepo
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := broker.NewKafkaPublisher(broker.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger), logger)
		defer kafkaPublisher.Close()
		sinks = append(sinks, kafkaPublisher)
		logger.Info("publishing activity to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	events := pii.NewPublisher(activity.NewFanout(sinks...), pii.NewRedactor(cfg.ActivityRedactFields, logger))

	// --- Initialize Use Cases ---
	hasher, err := apikey.NewHasher(cfg.APIKeyPepper)
	if err != nil {
		logger.Error("invalid api key pepper", "error", err)
		os.Exit(1)
	}
	registry := usecase.NewTenantRegistry(tenantRepo, events, clk, logger, m, cfg.APIKeyCacheTTL).WithHasher(hasher)
	dispatchUseCase := usecase.NewDispatchUseCase(playerRepo, commandRepo, events, clk, logger, m, cfg.ClaimBatchSize)
	operatorUseCase := usecase.NewOperatorUseCase(tenantRepo, commandRepo, playerRepo, events, clk, logger, m)
	expireUseCase := usecase.NewExpireCommandsUseCase(commandRepo, events, clk, logger, m, cfg.CommandExpiry)

	if cfg.TenantSeedFile != "" {
		if err := provisionSeed(ctx, registry, cfg.TenantSeedFile, logger); err != nil {
			logger.Error("failed to apply tenant seed file", "path", cfg.TenantSeedFile, "error", err)
			os.Exit(1)
		}
	}

	if cfg.ExpirySweepInterval > 0 {
		go expireUseCase.Run(ctx, cfg.ExpirySweepInterval)
	} else {
		logger.Info("in-process expiry sweep disabled; run cmd/sweeper instead")
	}

	// --- Initialize Servers ---
	adminRouter := api.NewAdminRouter(logger, m, cfg.AdminToken,
		handler.NewOperatorHandler(registry, operatorUseCase, activityReader, logger, cfg.MaxBodyBytes),
		sseBroker, prometheus.DefaultGatherer)
	adminServer := &http.Server{
		Addr:              cfg.AdminServerAddr,
		Handler:           adminRouter,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is not set, operator API is unauthenticated")
	}

	ingestRouter := api.NewRouter(logger, m, registry, dispatchUseCase, cfg.MaxBodyBytes)
	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      ingestRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting operator & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operator server failed", "error", err)
			stop()
		}
	}()
	go func() {
		logger.Info("starting agent server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("agent server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("agent server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("operator server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}

func provisionSeed(ctx context.Context, registry *usecase.TenantRegistry, path string, logger *slog.Logger) error {
	seeds, err := config.LoadTenantSeed(path)
	if err != nil {
		return err
	}
	for _, s := range seeds {
		if err := registry.Provision(ctx, s.PlaceID, s.Name, s.APIKey); err != nil {
			return err
		}
	}
	logger.Info("tenant seed applied", "places", len(seeds))
	return nil
}
