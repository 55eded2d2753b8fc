package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/amount"
	"github.com/auctionhouse/auctiond/internal/api/ops"
	"github.com/auctionhouse/auctiond/internal/infrastructure/cache"
	"github.com/auctionhouse/auctiond/internal/infrastructure/config"
	"github.com/auctionhouse/auctiond/internal/infrastructure/database"
	"github.com/auctionhouse/auctiond/internal/infrastructure/events"
	"github.com/auctionhouse/auctiond/internal/service/bidding"
	"github.com/auctionhouse/auctiond/internal/service/lifecycle"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The secondary is constructed eagerly; it has no failure mode the
	// failover design can absorb.
	secondary, err := database.NewSQLiteStore(cfg.Database.SQLitePath, logger)
	if err != nil {
		logger.Fatal("failed to open embedded database", zap.Error(err))
	}

	primaryFactory := func(ctx context.Context) (database.Store, error) {
		return database.NewPostgresStore(ctx, cfg.Database, logger)
	}
	store := database.NewFailoverController(
		primaryFactory,
		secondary,
		database.ValidatePostgresURL(cfg.Database.URL),
		cfg.Database.MaxConnectAttempts,
		cfg.Database.CoolOffWindow,
		logger,
	)
	defer store.Close()

	publisher := events.NewPublisher(logger)
	publisher.Subscribe(events.SinkFunc(func(e events.Event) error {
		logger.Info("event",
			zap.String("type", e.Type),
			zap.String("auction_id", e.AuctionID.String()),
			zap.Any("payload", e.Payload))
		return nil
	}))

	cooldowns, err := newCooldownStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build cooldown store", zap.Error(err))
	}

	codec := amount.NewCodec(cfg.Auction.MinBid, cfg.Auction.MaxBid)
	finalizer := lifecycle.NewFinalizer(store, publisher, logger, cfg.Auction.CommissionPercent)
	registry := lifecycle.NewRegistry(ctx, store, finalizer, publisher, logger, lifecycle.MonitorConfig{
		PollInterval:        cfg.Auction.PollInterval,
		InactivityThreshold: cfg.Auction.InactivityThreshold,
		CountdownSeconds:    cfg.Auction.CountdownSeconds,
		PromoInterval:       cfg.Auction.PromoInterval,
	})

	service := bidding.NewService(store, cooldowns, bidding.AllowAll, codec,
		registry, finalizer, publisher, logger, bidding.Config{
			Cooldown:            cfg.Auction.Cooldown,
			DefaultStartBid:     cfg.Auction.DefaultStartBid,
			DefaultMinIncrement: cfg.Auction.DefaultMinIncrement,
			DefaultDuration:     cfg.Auction.DefaultDuration,
		})

	// Pick the watch back up for an auction that was open across a
	// restart.
	if err := registry.Restore(ctx); err != nil {
		logger.Warn("monitor restoration failed", zap.Error(err))
	}

	server := ops.NewServer(cfg.Ops, ops.NewHandler(service, store, logger), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	registry.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "development" {
		return zap.NewDevelopment()
	}
	zapCfg := zap.NewProductionConfig()
	if err := zapCfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zapCfg.Build()
}

func newCooldownStore(cfg *config.Config, logger *zap.Logger) (cache.CooldownStore, error) {
	if cfg.Redis.URL == "" {
		return cache.NewMemoryCooldowns(), nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis cooldown store", zap.String("addr", opts.Addr))
	// Entries only need to outlive the cooldown window.
	ttl := cfg.Auction.Cooldown
	if ttl < time.Second {
		ttl = time.Second
	}
	return cache.NewRedisCooldowns(redis.NewClient(opts), ttl), nil
}
