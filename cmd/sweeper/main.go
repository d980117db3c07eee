package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/activity"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/fleet-dispatch/internal/adapter/repository/redis"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/config"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/logger"
	"github.com/V4T54L/fleet-dispatch/internal/usecase"
)

const defaultSweepInterval = 30 * time.Second

func main() {
	once := pflag.Bool("once", false, "run a single sweep and exit")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	if cfg.StoreBackend != config.BackendPostgres {
		log.Error("the sweeper needs a shared command store", "store_backend", cfg.StoreBackend)
		os.Exit(1)
	}
	log.Info("starting expiry sweeper")

	// Create a context that we can cancel on shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to postgres")

	var sinks []domain.ActivityPublisher
	if cfg.RedisAddr != "" {
		redisClient, err := redisrepo.NewClient(cfg.RedisAddr)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("could not connect to redis, expiry events will not be published", "error", err)
		} else {
			sinks = append(sinks, redisrepo.NewActivityRepository(redisClient, log, cfg.ActivityStream, cfg.ActivityStreamMaxLen))
		}
	}

	sweeper := usecase.NewExpireCommandsUseCase(
		postgres.NewCommandRepository(db, log),
		activity.NewFanout(sinks...),
		clock.Real(),
		log,
		nil,
		cfg.CommandExpiry,
	)

	if *once {
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		log.Info("sweep finished", "expired", n)
		return
	}

	interval := cfg.ExpirySweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	sweeper.Run(ctx, interval)

	log.Info("expiry sweeper shut down gracefully")
}
