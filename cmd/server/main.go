package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-gateway/config"
	"pos-gateway/internal/adapter"
	"pos-gateway/internal/api"
	"pos-gateway/internal/auth"
	"pos-gateway/internal/broker"
	"pos-gateway/internal/gateway"
	"pos-gateway/internal/redisclient"
	"pos-gateway/internal/service"
	"pos-gateway/internal/store"
	"pos-gateway/internal/util"
	"pos-gateway/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS gateway")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.MigrationsEnabled {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var replay auth.ReplaySeenStore
	switch cfg.Gateway.ReplayStore {
	case config.ReplayStoreMemory:
		logger.Warn("Using process-local replay store; replay protection is per instance")
		replay = auth.NewMemoryReplayStore(cfg.Gateway.NonceTTL)
	default:
		replay = auth.NewRedisReplayStore(redisClient, cfg.Gateway.NonceTTL)
	}

	webhookProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook)
	defer webhookProducer.Close()
	deadLetterProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhookDLQ)
	defer deadLetterProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(webhookProducer, deadLetterProducer)

	syncLogger := service.NewSyncLogger(db)
	adapters := adapter.NewRegistry()
	webhooks := service.NewWebhookDispatcher(db, eventPublisher, db, syncLogger)
	baselines := service.NewBaselineService(db, db, cfg.Gateway.BaselineTimeout)
	menuService := service.NewMenuSyncService(db, adapters, syncLogger)
	orderService := service.NewOrderSyncService(db, db, baselines, adapters, webhooks, syncLogger,
		service.WithOrderLocker(redisClient, cfg.Gateway.OrderLockTTL),
		service.WithMaxBatchOrders(cfg.Gateway.MaxBatchOrders))

	authenticator := auth.NewAuthenticator(db, replay, auth.WithTolerance(cfg.Gateway.TimestampTolerance))
	gw := gateway.New(authenticator, menuService, orderService, webhooks, syncLogger,
		gateway.WithDevelopment(cfg.IsDevelopment()))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var webhookWorker *worker.WebhookWorker
	if cfg.Kafka.WorkerEnabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook, cfg.Kafka.ConsumerGroup)
		webhookWorker = worker.NewWebhookWorker(consumer, eventPublisher, syncLogger, worker.DeliveryConfig{
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
			Timeout:        cfg.Webhook.Timeout,
		})
		go func() {
			if err := webhookWorker.Start(workerCtx); err != nil && err != context.Canceled {
				// the stuck message is uncommitted; restarting hands it back to the group
				logger.Error("Webhook worker stopped, shutting down", zap.Error(err))
				select {
				case quit <- syscall.SIGTERM:
				default:
				}
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(gw, adapters, cfg.Gateway.Path, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port), zap.String("gateway_path", cfg.Gateway.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if webhookWorker != nil {
		if err := webhookWorker.Stop(); err != nil {
			logger.Error("Error stopping webhook worker", zap.Error(err))
		}
	}

	// let in-flight webhook enqueues and sync log writes finish before the
	// producers and database close
	webhooks.Wait()
	syncLogger.Wait()

	logger.Info("Server exited")
}
