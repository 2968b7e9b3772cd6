package handlers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/auth"
	"github.com/mortgage-marketplace/backend/internal/http/dto"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

const HeaderWebhookSignature = "X-Signature"

// esignActor is recorded in the audit trail for provider callbacks.
var esignActor = models.Actor{ID: "esign", Type: models.ActorTypeWebhook}

type WebhookHandler struct {
	dealService *services.DealService
	secret      string
	log         *zap.Logger
}

func NewWebhookHandler(dealService *services.DealService, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{dealService: dealService, secret: secret, log: log}
}

// ESign turns a completed envelope into DOCS_SIGNED. Other envelope statuses
// are acknowledged and dropped. Redelivery after the deal moved on is
// acknowledged as a duplicate.
func (h *WebhookHandler) ESign(c *fiber.Ctx) error {
	body := c.Body()
	if err := auth.VerifyWebhookSignature(h.secret, body, c.Get(HeaderWebhookSignature)); err != nil {
		h.log.Warn("esign webhook rejected", zap.String("request_id", requestID(c)), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error:     "invalid signature",
			RequestID: requestID(c),
		})
	}

	var req dto.ESignWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(c, "invalid request body")
	}
	dealID, err := uuid.Parse(req.DealID)
	if err != nil {
		return badRequest(c, "invalid deal_id")
	}
	if strings.TrimSpace(req.EnvelopeID) == "" {
		return badRequest(c, "envelope_id is required")
	}

	if !strings.EqualFold(req.Status, "completed") {
		return c.JSON(dto.WebhookAck{Accepted: true, Action: "ignored"})
	}

	_, err = h.dealService.TransitionDealState(c.UserContext(), dealID, models.DocsSigned{EnvelopeID: req.EnvelopeID}, esignActor, nil)
	var ite *models.InvalidTransitionError
	switch {
	case err == nil:
		return c.JSON(dto.WebhookAck{Accepted: true, Action: "docs_signed"})
	case errors.As(err, &ite) && ite.From != models.DealStatePendingDocs && ite.From != models.DealStateLocked && ite.From != models.DealStatePendingLawyer:
		h.log.Info("duplicate esign completion",
			zap.String("deal_id", dealID.String()),
			zap.String("envelope_id", req.EnvelopeID),
			zap.String("state", string(ite.From)),
		)
		return c.JSON(dto.WebhookAck{Accepted: true, Action: "duplicate"})
	default:
		return writeError(c, h.log, err)
	}
}
