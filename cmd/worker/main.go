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
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/mortgage-marketplace/backend/internal/services"
	"github.com/mortgage-marketplace/backend/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 5, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store := repositories.NewPostgresStore(pool)
	policy := models.EscalationPolicy{
		RejectionThreshold: cfg.EscalationRejectionThreshold,
		ReviewSLA:          cfg.ReviewSLA,
	}
	publisher, closePublisher := events.NewSinkPublisher(cfg, rdb, log)
	defer closePublisher()
	dealService := services.NewDealService(store, publisher, log)
	workflow := services.NewTransferWorkflow(dealService, policy)
	metricsService := services.NewMetricsService(store, rdb, workflow.Policy(), cfg.MetricsCacheTTL, cfg.RecentActivityLimit, log)

	jobs := worker.NewJobs(workflow, metricsService, publisher, cfg.ReviewSLA, log)
	scheduler := worker.NewScheduler(jobs, cfg, log)
	if err := scheduler.Register(ctx); err != nil {
		log.Fatal("failed to schedule jobs", zap.Error(err))
	}

	health := fiber.New(fiber.Config{DisableStartupMessage: true})
	health.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	scheduler.Start()
	log.Info("worker started", zap.String("alert_sink", cfg.AlertSink))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Listen(fmt.Sprintf(":%s", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down worker")
		<-scheduler.Stop().Done()
		return health.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped with error", zap.Error(err))
	}
}
