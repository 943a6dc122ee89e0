package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	"github.com/amharic-code-craft/orchestrator/pkg/response"
)

type ConfirmationHandler struct {
	service   *service.ConfirmationService
	validator *validator.Validate
}

func NewConfirmationHandler(svc *service.ConfirmationService, v *validator.Validate) *ConfirmationHandler {
	return &ConfirmationHandler{
		service:   svc,
		validator: v,
	}
}

// Evaluate handles POST /api/confirmations/evaluate
// @Summary      Classify change risk
// @Description  Pure risk classification of a proposed change; no state is created
// @Tags         Confirmations
// @Accept       json
// @Produce      json
// @Param        request body model.ConfirmationEvaluateRequest true "Change to classify"
// @Success      200 {object} model.RiskAssessment
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/confirmations/evaluate [post]
func (h *ConfirmationHandler) Evaluate(c *fiber.Ctx) error {
	var req model.ConfirmationEvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	assessment := service.Evaluate(req.ChangeType, req.AffectedTables, req.AffectedComponents)
	return response.OK(c, assessment)
}

// Request handles POST /api/confirmations
// @Summary      Request confirmation
// @Description  Create a time-boxed approval request with a generated preview
// @Tags         Confirmations
// @Accept       json
// @Produce      json
// @Param        request body model.ConfirmationRequestRequest true "Confirmation request"
// @Success      201 {object} model.ConfirmationRequestResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/confirmations [post]
func (h *ConfirmationHandler) Request(c *fiber.Ctx) error {
	var req model.ConfirmationRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Request(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Get handles GET /api/confirmations/:id
// @Summary      Get confirmation
// @Description  Get a confirmation record, including the preview needed to re-request after expiry
// @Tags         Confirmations
// @Produce      json
// @Param        id path string true "Confirmation ID"
// @Success      200 {object} model.PendingConfirmation
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/confirmations/{id} [get]
func (h *ConfirmationHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Confirmation ID is required", nil)
	}

	result, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrConfirmationNotFound) {
			return response.NotFound(c, "Confirmation not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Resolve handles POST /api/confirmations/:id/resolve
// @Summary      Resolve confirmation
// @Description  Approve or reject a pending confirmation before its window closes
// @Tags         Confirmations
// @Accept       json
// @Produce      json
// @Param        id path string true "Confirmation ID"
// @Param        request body model.ConfirmationResolveRequest true "Decision"
// @Success      200 {object} model.ConfirmationResolveResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      410 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/confirmations/{id}/resolve [post]
func (h *ConfirmationHandler) Resolve(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Confirmation ID is required", nil)
	}

	var req model.ConfirmationResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Resolve(c.Context(), id, req.Decision)
	if err != nil {
		if errors.Is(err, service.ErrConfirmationNotFound) {
			return response.NotFound(c, "Confirmation not found")
		}
		if errors.Is(err, service.ErrAlreadyResolved) {
			return response.AlreadyResolved(c, "Confirmation already resolved")
		}
		if errors.Is(err, service.ErrConfirmationExpired) {
			return response.Expired(c, "Confirmation window has expired")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.ConfirmationResolveResponse{
		Success:    true,
		Resolution: result.Resolution,
	})
}
