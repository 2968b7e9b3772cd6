package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/mortgage-marketplace/backend/internal/config"
	"github.com/mortgage-marketplace/backend/internal/db"
	"github.com/mortgage-marketplace/backend/internal/events"
	apphttp "github.com/mortgage-marketplace/backend/internal/http"
	"github.com/mortgage-marketplace/backend/internal/http/handlers"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, db.Migrations(), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Events
	publisher, closePublisher := events.NewSinkPublisher(cfg, rdb, log)
	defer closePublisher()
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	store := repositories.NewPostgresStore(pool)
	policy := models.EscalationPolicy{
		RejectionThreshold: cfg.EscalationRejectionThreshold,
		ReviewSLA:          cfg.ReviewSLA,
	}
	dealService := services.NewDealService(store, publisher, log)
	workflow := services.NewTransferWorkflow(dealService, policy)
	metricsService := services.NewMetricsService(store, rdb, workflow.Policy(), cfg.MetricsCacheTTL, cfg.RecentActivityLimit, log)

	// Handlers
	dealHandler := handlers.NewDealHandler(dealService, log)
	transferHandler := handlers.NewTransferHandler(workflow, log)
	metricsHandler := handlers.NewMetricsHandler(metricsService, store, log)
	webhookHandler := handlers.NewWebhookHandler(dealService, cfg.ESignWebhookSecret, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// The hub listens on redis pub/sub, so it only sees alerts when that is the sink
	if cfg.AlertSink == config.AlertSinkRedis {
		if err := wsHub.Start(ctx); err != nil {
			log.Error("failed to start ws hub", zap.Error(err))
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, dealHandler, transferHandler, metricsHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr), zap.String("alert_sink", cfg.AlertSink))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
