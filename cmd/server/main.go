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

	"drop-service/config"
	"drop-service/internal/api"
	"drop-service/internal/broker"
	"drop-service/internal/minting"
	"drop-service/internal/models"
	"drop-service/internal/redisclient"
	"drop-service/internal/service"
	"drop-service/internal/store"
	"drop-service/internal/util"
	"drop-service/internal/worker"

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
	logger.Info("Starting drop service")

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
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
	}

	ctx := context.Background()
	readiness := make(map[string]api.ReadinessCheck)

	var records store.RecordStore
	switch cfg.Database.Backend {
	case "memory":
		mem := store.NewMemoryStore()
		if err := seedProducts(ctx, mem); err != nil {
			logger.Fatal("Failed to seed products", zap.Error(err))
		}
		records = mem
		logger.Info("Using in-memory store")
	default:
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		records = db
		readiness["database"] = db.Ping
		logger.Info("Database connected")
	}

	// Redis holds barcode claims and idempotency keys when available.
	var registry service.BarcodeRegistry = records
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		registry = redisClient
		readiness["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	var minter service.Minter
	if cfg.Mint.APIURL != "" {
		minter = minting.NewHTTPMinter(cfg.Mint.APIURL, cfg.Mint.APIKey, time.Duration(cfg.Mint.TimeoutSeconds)*time.Second)
		logger.Info("Using minting API", zap.String("url", cfg.Mint.APIURL))
	} else {
		minter = minting.NewSimulatedMinter(cfg.Mint.SimulatedSuccessRate, 200*time.Millisecond)
		logger.Warn("MINT_API_URL not set, using simulated minter",
			zap.Float64("success_rate", cfg.Mint.SimulatedSuccessRate))
	}

	var publisher service.EventPublisher = broker.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchase)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicPurchase))
	}

	ledger := service.NewInventoryLedger(records)
	barcodes := service.NewUniqueBarcodeGenerator(
		service.NewRandomBarcodeGenerator(cfg.Business.BarcodeLength),
		registry,
		cfg.Business.BarcodeMaxAttempts,
	)
	orchestrator := service.NewPurchaseOrchestrator(records, ledger, barcodes, minter, publisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var fulfillmentWorker *worker.FulfillmentWorker
	if cfg.Kafka.Enabled {
		fulfillment := service.NewFulfillmentService(
			records,
			service.NewLoggingPrintPartner(),
			service.NewLoggingMailer(),
			cfg.Business.VerifyBaseURL,
		)
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchase, cfg.Kafka.ConsumerGroup)
		fulfillmentWorker = worker.NewFulfillmentWorker(consumer, fulfillment)
		go func() {
			if err := fulfillmentWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Fulfillment worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orchestrator, records)
	if redisClient != nil {
		handler.WithIdempotency(redisClient, time.Duration(cfg.Business.IdempotencyTTLSeconds)*time.Second)
	}
	for name, check := range readiness {
		handler.WithReadinessCheck(name, check)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if fulfillmentWorker != nil {
		if err := fulfillmentWorker.Stop(); err != nil {
			logger.Error("Error stopping fulfillment worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// seedProducts loads a small catalogue so the in-memory backend is usable
func seedProducts(ctx context.Context, s store.RecordStore) error {
	products := []*models.Product{
		{ID: "genesis-tee", Name: "Genesis Tee", Price: 4500, Barcode: "DRP-GEN-0001", InventoryLimit: 100},
		{ID: "midnight-hoodie", Name: "Midnight Hoodie", Price: 9000, Barcode: "DRP-MID-0002", InventoryLimit: 25},
		{ID: "one-of-one", Name: "One of One Jacket", Price: 40000, Barcode: "DRP-ONE-0003", InventoryLimit: 1},
	}
	for _, p := range products {
		if err := s.CreateProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
