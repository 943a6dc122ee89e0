package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	"github.com/amharic-code-craft/orchestrator/pkg/response"
)

type ThinkingHandler struct {
	service   *service.ThinkingService
	validator *validator.Validate
}

func NewThinkingHandler(svc *service.ThinkingService, v *validator.Validate) *ThinkingHandler {
	return &ThinkingHandler{
		service:   svc,
		validator: v,
	}
}

// Emit handles POST /api/thinking/:scopeId/steps
// @Summary      Emit thinking step
// @Description  Record a sub-task telemetry step for a scope
// @Tags         Thinking
// @Accept       json
// @Produce      json
// @Param        scopeId path string true "Scope ID"
// @Param        request body model.ThinkingEmitRequest true "Step"
// @Success      200 {object} model.ThinkingStepsResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/thinking/{scopeId}/steps [post]
func (h *ThinkingHandler) Emit(c *fiber.Ctx) error {
	scopeID := c.Params("scopeId")
	if scopeID == "" {
		return response.ValidationError(c, "Scope ID is required", nil)
	}

	var req model.ThinkingEmitRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.Emit(c.Context(), scopeID, &req); err != nil {
		return response.ServiceError(c, err.Error())
	}

	steps, err := h.service.Get(c.Context(), scopeID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, steps)
}

// Get handles GET /api/thinking/:scopeId
// @Summary      Get thinking steps
// @Description  Get the recorded steps for a scope and whether any is still active
// @Tags         Thinking
// @Produce      json
// @Param        scopeId path string true "Scope ID"
// @Success      200 {object} model.ThinkingStepsResponse
// @Security     BearerAuth
// @Router       /api/thinking/{scopeId} [get]
func (h *ThinkingHandler) Get(c *fiber.Ctx) error {
	scopeID := c.Params("scopeId")
	if scopeID == "" {
		return response.ValidationError(c, "Scope ID is required", nil)
	}

	steps, err := h.service.Get(c.Context(), scopeID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, steps)
}

// Clear handles DELETE /api/thinking/:scopeId
// @Summary      Clear thinking steps
// @Description  Remove all recorded steps for a scope
// @Tags         Thinking
// @Param        scopeId path string true "Scope ID"
// @Success      204
// @Security     BearerAuth
// @Router       /api/thinking/{scopeId} [delete]
func (h *ThinkingHandler) Clear(c *fiber.Ctx) error {
	scopeID := c.Params("scopeId")
	if scopeID == "" {
		return response.ValidationError(c, "Scope ID is required", nil)
	}

	if err := h.service.Clear(c.Context(), scopeID); err != nil {
		return response.ServiceError(c, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}
