package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mortgage-marketplace/backend/internal/config"
	"github.com/mortgage-marketplace/backend/internal/http/handlers"
	"github.com/mortgage-marketplace/backend/internal/middleware"
	"github.com/mortgage-marketplace/backend/internal/rbac"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter mounts the deal API on app. rdb may be nil, which disables rate
// limiting.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	dealHandler *handlers.DealHandler,
	transferHandler *handlers.TransferHandler,
	metricsHandler *handlers.MetricsHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "ws_connections": wsHub.Connected()})
	})

	api := app.Group("/api/v1")

	// Provider callbacks authenticate by signature, not JWT
	api.Post("/webhooks/esign", webhookHandler.ESign)

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimit, time.Minute))
	}

	// Deals
	read := middleware.RequirePermission(rbac.PermReadDeals)
	protected.Post("/deals", middleware.RequirePermission(rbac.PermCreateDeal), dealHandler.CreateDeal)
	protected.Get("/deals", read, dealHandler.ListDeals)
	protected.Get("/deals/:id", read, dealHandler.GetDeal)
	protected.Get("/deals/:id/history", read, dealHandler.GetHistory)
	// per-event authorization happens in the handler
	protected.Post("/deals/:id/transitions", dealHandler.Transition)

	// Ownership transfer review
	review := middleware.RequirePermission(rbac.PermReviewTransfer)
	override := middleware.RequirePermission(rbac.PermManualOverride)
	protected.Get("/ownership-transfers/pending", review, transferHandler.ListPending)
	protected.Post("/ownership-transfers/:id/approve", review, transferHandler.Approve)
	protected.Post("/ownership-transfers/:id/reject", review, transferHandler.Reject)
	protected.Post("/ownership-transfers/:id/manual-approve", override, transferHandler.ManualApprove)
	protected.Post("/ownership-transfers/:id/manual-cancel", override, transferHandler.ManualCancel)

	// Dashboard
	protected.Get("/metrics/deals", middleware.RequirePermission(rbac.PermViewMetrics), metricsHandler.GetDealMetrics)
	protected.Get("/alerts", middleware.RequirePermission(rbac.PermViewAlerts), metricsHandler.ListAlerts)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
