package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paybridge/config"
	"paybridge/internal/database"
	"paybridge/internal/logging"
	"paybridge/internal/middleware"
	"paybridge/internal/router"
	"paybridge/internal/service"
	"paybridge/pkg/cloudinary"
	"paybridge/pkg/events"
	"paybridge/pkg/payment"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := router.Deps{
		Provider: payment.NewDarajaClient(payment.DarajaConfig{
			BaseURL:         cfg.Daraja.BaseURL,
			ConsumerKey:     cfg.Daraja.ConsumerKey,
			ConsumerSecret:  cfg.Daraja.ConsumerSecret,
			ShortCode:       cfg.Daraja.ShortCode,
			PassKey:         cfg.Daraja.PassKey,
			PartyB:          cfg.Daraja.PartyB,
			TransactionType: cfg.Daraja.TransactionType,
			CallbackURL:     cfg.Daraja.CallbackURL,
			MinAmount:       decimal.NewFromInt(cfg.Daraja.MinAmount),
			MaxAmount:       decimal.NewFromInt(cfg.Daraja.MaxAmount),
			RequestTimeout:  cfg.Daraja.RequestTimeout,
		}, logger),
	}

	if cfg.Cloudinary.CloudName != "" {
		cloud, err := cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			logger.Fatal("cloudinary", zap.Error(err))
		}
		deps.Cloud = cloud
	} else {
		logger.Info("receipt upload disabled: set CLOUDINARY_CLOUD_NAME to enable")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, continuing", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		deps.Redis = rdb
		deps.RateLimiter = middleware.NewRedisRateLimiter(rdb, cfg.Server.RateLimit, time.Minute)
	} else {
		mem := middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, time.Minute)
		go mem.Cleanup(ctx)
		deps.RateLimiter = mem
	}

	if len(cfg.Kafka.Brokers) > 0 {
		deps.Events = events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer deps.Events.Close()
		logger.Info("settlement events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if fcm := service.NewFCMService(ctx, cfg.Firebase.ServiceAccountPath, logger); fcm != nil {
		deps.Pusher = fcm
		logger.Info("push notifications enabled")
	} else {
		logger.Info("push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}

	app := router.Setup(cfg, db, deps, logger)
	go app.Sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      app.Engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
