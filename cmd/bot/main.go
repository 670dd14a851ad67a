package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arlan/demping-bot/internal/api"
	"github.com/arlan/demping-bot/internal/applier"
	"github.com/arlan/demping-bot/internal/config"
	"github.com/arlan/demping-bot/internal/engine"
	"github.com/arlan/demping-bot/internal/marketplace"
	"github.com/arlan/demping-bot/internal/scheduler"
	"github.com/arlan/demping-bot/internal/segments"
	"github.com/arlan/demping-bot/internal/storage"
	"github.com/arlan/demping-bot/internal/telegram"
	"github.com/arlan/demping-bot/migrations"
	"github.com/arlan/demping-bot/pkg/utils"
)

const segmentCacheTTL = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("🚀 Starting demping bot...")

	policy, err := config.LoadStorePolicy(cfg.PolicyPath)
	if err != nil {
		logger.Error("Failed to load store policy: %v", err)
		os.Exit(1)
	}
	logger.Info("Store policy: profile=%s, work hours %02d-%02d, check interval %s",
		policy.ProfileName, policy.WorkHoursStart, policy.WorkHoursEnd, policy.CheckInterval.Std())

	store, err := storage.NewPostgresStorage(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := migrations.Run(store.DB()); err != nil {
		logger.Error("Failed to run migrations: %v", err)
		os.Exit(1)
	}

	client := marketplace.NewClient(
		cfg.Marketplace.MerchantID,
		cfg.Marketplace.APIToken,
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.RPS,
	)

	lane := scheduler.NewPriorityLane(policy.PriorityCapacity)

	sched := scheduler.New(scheduler.Config{
		CheckInterval:    policy.CheckInterval.Std(),
		PriorityInterval: policy.PriorityInterval.Std(),
		Tick:             cfg.Scheduler.Tick,
		Workers:          cfg.Scheduler.Workers,
		ItemDeadline:     cfg.Scheduler.ItemDeadline,
		Hours: scheduler.WorkHours{
			Start: policy.WorkHoursStart,
			End:   policy.WorkHoursEnd,
		},
	}, lane, logger)

	resolver := segments.NewResolver(client, store.Segments(), logger, segmentCacheTTL)
	priceApplier := applier.New(client, store.Checks(), store.Events(), store.Segments(), logger)

	var notifier engine.Notifier
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("Failed to init Telegram notifier: %v", err)
			os.Exit(1)
		}
		notifier = tg
	} else {
		logger.Warn("Telegram notifications disabled")
	}

	eng := engine.New(
		store.Configs(),
		store.Checks(),
		store.Segments(),
		resolver,
		client,
		client,
		priceApplier,
		sched,
		lane,
		notifier,
		logger,
		policy.ExcludedMerchants,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Bootstrap(ctx); err != nil {
		logger.Error("Failed to bootstrap engine: %v", err)
		os.Exit(1)
	}

	go sched.Run(ctx)

	server := api.NewServer(logger, eng, store, cfg.APIPort)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server stopped: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
}
