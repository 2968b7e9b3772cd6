package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/http/dto"
	"github.com/mortgage-marketplace/backend/internal/middleware"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type TransferHandler struct {
	workflow *services.TransferWorkflow
	log      *zap.Logger
}

func NewTransferHandler(workflow *services.TransferWorkflow, log *zap.Logger) *TransferHandler {
	return &TransferHandler{workflow: workflow, log: log}
}

func (h *TransferHandler) ListPending(c *fiber.Ctx) error {
	items, err := h.workflow.GetPendingTransfersForReview(c.UserContext())
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

func (h *TransferHandler) Approve(c *fiber.Ctx) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transfer id")
	}

	t, err := h.workflow.Approve(c.UserContext(), transferID, middleware.GetActor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransferHandler) Reject(c *fiber.Ctx) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transfer id")
	}

	var req dto.RejectTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	t, err := h.workflow.Reject(c.UserContext(), transferID, middleware.GetActor(c), strings.TrimSpace(req.Reason))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}

func (h *TransferHandler) ManualApprove(c *fiber.Ctx) error {
	return h.resolve(c, h.workflow.ForceApprove)
}

func (h *TransferHandler) ManualCancel(c *fiber.Ctx) error {
	return h.resolve(c, h.workflow.ForceCancel)
}

type resolveFunc func(ctx context.Context, transferID uuid.UUID, admin models.Actor, notes *string) (*models.PendingOwnershipTransfer, error)

func (h *TransferHandler) resolve(c *fiber.Ctx, fn resolveFunc) error {
	transferID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid transfer id")
	}

	var req dto.ManualResolutionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	t, err := fn(c.UserContext(), transferID, middleware.GetActor(c), req.Notes)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: t})
}
