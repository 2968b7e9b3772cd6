package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mortgage-marketplace/backend/internal/http/dto"
	"github.com/mortgage-marketplace/backend/internal/middleware"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

const (
	CodeInvalidTransition = "invalid_transition"
	CodeGuardViolation    = "guard_violation"
	CodeConflict          = "conflict"
	CodeNotFound          = "not_found"
	CodeInvalidEvent      = "invalid_event"
	CodeBadRequest        = "bad_request"
	CodeForbidden         = "forbidden"
	CodeInternal          = "internal_error"
)

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      CodeBadRequest,
		RequestID: requestID(c),
	})
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      CodeForbidden,
		RequestID: requestID(c),
	})
}

// writeError maps service errors onto the HTTP error contract.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: requestID(c)}
	status := fiber.StatusInternalServerError

	var (
		ite *models.InvalidTransitionError
		gv  *models.GuardViolationError
	)
	switch {
	case errors.As(err, &ite):
		status, resp.Code = fiber.StatusConflict, CodeInvalidTransition
		resp.From, resp.Event = string(ite.From), string(ite.Event)
	case errors.As(err, &gv):
		status, resp.Code = fiber.StatusUnprocessableEntity, CodeGuardViolation
		resp.Rule, resp.Detail = gv.Rule, gv.Detail
	case services.IsRetryable(err):
		status, resp.Code = fiber.StatusConflict, CodeConflict
		c.Set(fiber.HeaderRetryAfter, "1")
	case errors.Is(err, models.ErrNotFound):
		status, resp.Code = fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, models.ErrInvalidEvent):
		status, resp.Code = fiber.StatusBadRequest, CodeInvalidEvent
	default:
		log.Error("request failed",
			zap.String("request_id", resp.RequestID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		resp.Code = CodeInternal
		resp.Error = "internal error"
	}
	return c.Status(status).JSON(resp)
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.CtxRequestID).(string)
	return id
}
