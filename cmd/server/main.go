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

	"soilify/config"
	"soilify/internal/api"
	"soilify/internal/auth"
	"soilify/internal/broker"
	"soilify/internal/chat"
	"soilify/internal/realtime"
	"soilify/internal/redisclient"
	"soilify/internal/service"
	"soilify/internal/store"
	"soilify/internal/util"
	"soilify/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting soilify service", zap.String("env", cfg.Server.Env))

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Unsafe configuration", zap.Error(err))
	}
	if cfg.Payment.CallbackSecret == "" {
		logger.Warn("PAYMENT_CALLBACK_SECRET is not set, payment callbacks will be rejected")
	}

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	inventoryClient := service.NewInventoryClient(db, redisClient)
	if err := inventoryClient.SyncStockToRedis(ctx); err != nil {
		logger.Warn("Failed to sync stock to Redis", zap.Error(err))
	}

	shippingService := service.NewShippingService(db, eventPublisher)
	if err := shippingService.Seed(ctx, cfg.Business.ShippingRates); err != nil {
		logger.Warn("Failed to seed shipping rates", zap.Error(err))
	}

	workflow := service.NewOrderWorkflow(service.WorkflowDeps{
		Catalog:   db,
		Orders:    db,
		Rates:     db,
		Inventory: inventoryClient,
		Guard:     redisClient,
		Payments:  redisClient,
		Events:    eventPublisher,
		Policy: service.WorkflowPolicy{
			CODLimit:          cfg.Business.CODLimit,
			LowStockThreshold: cfg.Business.LowStockThreshold,
			SubmissionTTL:     time.Duration(cfg.Business.SubmissionTTLSeconds) * time.Second,
		},
	})
	catalogService := service.NewCatalogService(db, inventoryClient, eventPublisher)

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Fatal("Failed to configure payment gateway", zap.Error(err))
	}
	paymentService := service.NewPaymentService(gateway, redisClient, eventPublisher, workflow, service.PaymentConfig{
		Currency:       cfg.Payment.Currency,
		SuccessURL:     cfg.Payment.SuccessURL,
		CancelURL:      cfg.Payment.CancelURL,
		CallbackSecret: cfg.Payment.CallbackSecret,
		ReferenceTTL:   time.Duration(cfg.Business.PaymentRefTTLSeconds) * time.Second,
	})
	logger.Info("Payment gateway configured", zap.String("provider", gateway.Name()))

	sessions := chat.NewRedisSessionStore(redisClient, time.Duration(cfg.Business.ChatSessionTTLSeconds)*time.Second)
	chatService := chat.NewService(workflow, catalogService, sessions)

	hub := realtime.NewHub(32)
	defer hub.Close()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.PaymentGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, workflow)
	go func() {
		if err := paymentWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Payment worker error", zap.Error(err))
		}
	}()

	// Each instance needs every change for its own SSE clients, so the group is per host.
	changeConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, realtimeGroup(cfg.Kafka.RealtimeGroup))
	changeWorker := worker.NewChangeWorker(changeConsumer, hub)
	go func() {
		if err := changeWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Change worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Workflow: workflow,
		Catalog:  catalogService,
		Shipping: shippingService,
		Payments: paymentService,
		Chat:     chatService,
		Hub:      hub,
		Verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AdminEmails),
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
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

	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := paymentWorker.Stop(); err != nil {
		logger.Warn("Error stopping payment worker", zap.Error(err))
	}
	if err := changeWorker.Stop(); err != nil {
		logger.Warn("Error stopping change worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newGateway(cfg *config.Config) (service.Gateway, error) {
	if cfg.Payment.StripeKey != "" {
		gw, err := service.NewStripeGateway(cfg.Payment.StripeKey)
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
	gw, err := service.NewLinkGateway(cfg.Payment.PaymentLinkURL)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

func realtimeGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return base
	}
	return base + "-" + host
}
