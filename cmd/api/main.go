package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/collectible-exchange/auction-backend/internal/api/rest"
	"github.com/collectible-exchange/auction-backend/internal/api/websocket"
	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	"github.com/collectible-exchange/auction-backend/internal/domain/values"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/cache"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/config"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/database"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/repository"
	"github.com/collectible-exchange/auction-backend/internal/infrastructure/telemetry"
	"github.com/collectible-exchange/auction-backend/internal/metrics"
	"github.com/collectible-exchange/auction-backend/internal/service/bidding"
	"github.com/collectible-exchange/auction-backend/internal/service/lifecycle"
	"github.com/collectible-exchange/auction-backend/internal/service/payments"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if v, err := decimal.NewFromString(cfg.Auction.DefaultMinIncrementPercent); err == nil && v.IsPositive() {
		values.DefaultMinIncrementPercent = v
	} else {
		logger.Warn("ignoring invalid default_min_increment_percent",
			zap.String("value", cfg.Auction.DefaultMinIncrementPercent))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	reg, err := metrics.NewRegistry()
	if err != nil {
		logger.Fatal("failed to create metrics registry", zap.Error(err))
	}

	live := cache.NewLiveStore(redisClient, logger)
	auctions := repository.NewAuctionRepository(pool)
	items := repository.NewItemRepository(pool)
	bids := repository.NewBidRepository(pool)
	paymentStore := repository.NewPaymentRepository(pool)
	users := repository.NewUserDirectory(pool)
	clock := auction.RealClock{}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	engine := bidding.NewEngine(live, auctions, items, bids, clock, hub, users, reg, logger)
	settlements := payments.NewService(paymentStore, auctions, live, clock, hub, logger)

	scheduler := lifecycle.NewScheduler(live, auctions, bids, paymentStore, clock, hub, reg, logger, lifecycle.Config{
		Tick:          cfg.Auction.SchedulerTick,
		PaymentWindow: cfg.Auction.PaymentWindow,
		TTLGrace:      cfg.Auction.LiveStateTTLGrace,
		OpTimeout:     cfg.Database.QueryTimeout,
	})
	go scheduler.Run(ctx)

	auth := rest.NewAuthMiddleware(rest.AuthConfig{
		Secret:      []byte(cfg.Security.JWTSecret),
		TokenExpiry: cfg.Security.TokenExpiry,
	})
	limiter := rest.NewRateLimiter(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.BurstSize)
	restHandler := rest.NewHandler(engine, settlements, auctions, bids, live, users, logger)
	wsHandler := websocket.NewHandler(hub, logger)

	root := http.NewServeMux()
	root.Handle("/", restHandler.Routes(auth, limiter))
	root.HandleFunc("GET /ws/auction/{id}", wsHandler.SubscribeAuction)
	root.HandleFunc("GET /ws/updates", wsHandler.SubscribeUpdates)

	server := rest.NewServer(cfg.Server, rest.Chain(root,
		rest.RecoveryMiddleware(logger),
		rest.LoggingMiddleware(logger),
	), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	hub.Stop()
}
