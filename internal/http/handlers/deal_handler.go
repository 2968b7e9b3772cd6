package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mortgage-marketplace/backend/internal/http/dto"
	"github.com/mortgage-marketplace/backend/internal/middleware"
	"github.com/mortgage-marketplace/backend/internal/models"
	"github.com/mortgage-marketplace/backend/internal/rbac"
	"github.com/mortgage-marketplace/backend/internal/repositories"
	"github.com/mortgage-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

type DealHandler struct {
	dealService *services.DealService
	log         *zap.Logger
}

func NewDealHandler(dealService *services.DealService, log *zap.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return badRequest(c, "invalid listing_id")
	}

	deal, err := h.dealService.CreateDeal(c.UserContext(), services.CreateDealInput{
		ListingID:           listingID,
		SellerID:            req.SellerID,
		InvestorID:          req.InvestorID,
		OwnershipPercentage: req.OwnershipPercentage,
		DealValue:           req.DealValue,
	}, middleware.GetActor(c))
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) ListDeals(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	filter := repositories.DealFilter{Limit: limit, Offset: offset}
	if s := c.Query("state"); s != "" {
		state := models.DealState(s)
		if !state.IsValid() {
			return badRequest(c, "unknown state "+strconv.Quote(s))
		}
		filter.State = &state
	}

	deals, err := h.dealService.ListDeals(c.UserContext(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}

	deal, err := h.dealService.GetDeal(c.UserContext(), dealID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *DealHandler) GetHistory(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}

	history, err := h.dealService.GetDealHistory(c.UserContext(), dealID)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}

// Transition raises a lifecycle event. Unknown body fields are refused so that
// retired payload shapes cannot slip through.
func (h *DealHandler) Transition(c *fiber.Ctx) error {
	dealID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}

	var req dto.TransitionRequest
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	ev, err := models.ParseEvent(req.EventPayload())
	if err != nil {
		return writeError(c, h.log, err)
	}

	if !rbac.CanRaiseEvent(middleware.GetRole(c), ev.Kind()) {
		return forbidden(c, "role may not raise "+string(ev.Kind()))
	}

	deal, err := h.dealService.TransitionDealState(c.UserContext(), dealID, ev, middleware.GetActor(c), req.Notes)
	if err != nil {
		return writeError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}
