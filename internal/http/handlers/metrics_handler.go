package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/http/dto"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type MetricsHandler struct {
	metrics *services.MetricsService
	alerts  repositories.Reader
	log     *zap.Logger
}

func NewMetricsHandler(metrics *services.MetricsService, alerts repositories.Reader, log *zap.Logger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, alerts: alerts, log: log}
}

func (h *MetricsHandler) GetDealMetrics(c *fiber.Ctx) error {
	m, err := h.metrics.GetDealMetrics(c.UserContext())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: m})
}

// ListAlerts returns persisted alerts, newest first, optionally for one deal.
func (h *MetricsHandler) ListAlerts(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var dealID *uuid.UUID
	if s := c.Query("deal_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return badRequest(c, "invalid deal_id")
		}
		dealID = &id
	}

	alerts, err := h.alerts.ListAlerts(c.UserContext(), dealID, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: alerts})
}
