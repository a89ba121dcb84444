package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"storefront-service/config"
	"storefront-service/internal/api"
	"storefront-service/internal/auth"
	"storefront-service/internal/broker"
	"storefront-service/internal/paymentgateway"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connected")

	if cfg.Database.MigrateOnStart {
		if err := store.Migrate(context.Background(), db.GetDB().DB, "up"); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized")

	gateway, err := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:     cfg.Payment.BaseURL,
		ClientID:    cfg.Payment.ClientID,
		APIKey:      cfg.Payment.APIKey,
		ChecksumKey: cfg.Payment.ChecksumKey,
		ReturnURL:   cfg.Payment.ReturnURL,
		CancelURL:   cfg.Payment.CancelURL,
		Timeout:     cfg.Payment.ProviderTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to configure payment provider", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		logger.Fatal("Failed to configure auth", zap.Error(err))
	}

	pricing := service.Pricing{
		FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
		FlatShippingFee:       cfg.Business.FlatShippingFee,
	}
	paymentService := service.NewPaymentService(db, gateway, redisClient, eventPublisher,
		cfg.Payment.LinkTTL, cfg.Payment.ProviderTimeout)
	orderService := service.NewOrderService(db, service.NewStockReservation(), pricing, eventPublisher, paymentService)
	cartService := service.NewCartService(db, pricing)
	catalogService := service.NewCatalogService(db)
	reconciler := service.NewPaymentReconciler(db, redisClient, eventPublisher, paymentService)

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
	paymentWorker := worker.NewPaymentEventWorker(paymentConsumer, reconciler.HandlePaymentResult)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(catalogService, cartService, orderService, paymentService, verifier,
		map[string]api.Pinger{"postgres": db, "redis": redisClient})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return paymentWorker.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	closeErr := multierr.Combine(
		paymentWorker.Stop(),
		producer.Close(),
		redisClient.Close(),
		db.Close(),
	)
	if closeErr != nil {
		logger.Warn("Errors while releasing resources", zap.Error(closeErr))
	}

	logger.Info("Server exited")
}
