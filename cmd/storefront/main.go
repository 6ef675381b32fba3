package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/electrowave/internal/metrics"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/internal/service"
	transportHttp "github.com/sakashimaa/electrowave/internal/transport/http"
	"github.com/sakashimaa/electrowave/internal/transport/http/handler"
	"github.com/sakashimaa/electrowave/internal/transport/kafka"
	"github.com/sakashimaa/electrowave/migrations"
	"github.com/sakashimaa/electrowave/pkg/config"
	"github.com/sakashimaa/electrowave/pkg/db"
	kafka2 "github.com/sakashimaa/electrowave/pkg/kafka"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	outboxRepository "github.com/sakashimaa/electrowave/pkg/outbox/repository"
	"github.com/sakashimaa/electrowave/pkg/outbox/worker"
	"github.com/sakashimaa/electrowave/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, utils.TracerConfig{
		ServiceName:    "storefront",
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Env:            cfg.Env,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	if cfg.Postgres.MigrateOnBoot {
		if err := db.Migrate(migrations.FS, cfg.Postgres.URL); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL, logger)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		if err := rdb.Close(); err != nil {
			mylogger.Warn(ctx, logger, "Error closing redis client", zap.Error(err))
		}
	}()

	m := metrics.New()

	productRepo := repository.NewProductRepository(pool, logger)
	cartRepo := repository.NewCartRepository(pool, logger)
	orderRepo := repository.NewOrderRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository()

	productService := service.NewCachedProductService(
		service.NewProductService(productRepo, logger),
		rdb,
		cfg.Redis.CacheTTL,
		logger,
	)
	cartService := service.NewCartService(pool, cartRepo, productService, logger)
	orderService := service.NewOrderService(pool, orderRepo, outboxRepo, m, cfg.Kafka.OrderTopic, logger)
	revenueService := service.NewRevenueService(orderRepo, logger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Pool:       pool,
		Carts:      cartRepo,
		Products:   productRepo,
		Orders:     orderRepo,
		Outbox:     outboxRepo,
		Payments:   service.NewBreakerAuthorizer(service.NewSimulatedAuthorizer(), logger),
		Cache:      productService,
		Metrics:    m,
		OrderTopic: cfg.Kafka.OrderTopic,
		Logger:     logger,
	})

	kafkaProducer, err := kafka2.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			mylogger.Warn(ctx, logger, "Error closing kafka producer", zap.Error(err))
		}
	}()

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepo, kafkaProducer, logger, cfg.Kafka.OutboxInterval)
	outboxProcessor.OnPublished(m.ObserveOutboxPublished)
	go outboxProcessor.Start(ctx)

	consumer := kafka.NewConsumer(pool, orderService, m, logger)
	go func() {
		if err := consumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, []string{cfg.Kafka.ShippingTopic}); err != nil {
			mylogger.Error(ctx, logger, "Shipping consumer stopped", zap.Error(err))
		}
	}()

	app := fiber.New()

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	validate := handler.NewValidator()
	handlers := &transportHttp.Handlers{
		Cart:    handler.NewCartHandler(cartService, validate, logger, cfg.HTTP.Timeout),
		Order:   handler.NewOrderHandler(checkoutService, orderService, validate, logger, cfg.HTTP.Timeout),
		Product: handler.NewProductHandler(productService, validate, logger, cfg.HTTP.Timeout),
		Admin:   handler.NewAdminHandler(orderService, revenueService, validate, logger, cfg.HTTP.Timeout),
		Health: handler.NewHealthHandler(logger, map[string]handler.Pinger{
			"postgres": pool,
			"redis": handler.PingFunc(func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}),
		}),
		Metrics: adaptor.HTTPHandler(m.Handler()),
	}

	transportHttp.RegisterRoutes(app, handlers, cfg.Auth.AccessSecret)

	go func() {
		mylogger.Info(ctx, logger, "HTTP service listening", zap.String("port", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP port %v: %v\n", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down storefront")

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Error shutting down HTTP app", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}
}
