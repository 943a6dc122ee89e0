package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/amharic-code-craft/orchestrator/internal/model"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	"github.com/amharic-code-craft/orchestrator/pkg/response"
)

type ExperimentHandler struct {
	service   *service.ExperimentService
	validator *validator.Validate
}

func NewExperimentHandler(svc *service.ExperimentService, v *validator.Validate) *ExperimentHandler {
	return &ExperimentHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/experiments
// @Summary      Create fix experiment
// @Description  Start an A/B experiment for a recurring error pattern
// @Tags         Experiments
// @Accept       json
// @Produce      json
// @Param        request body model.ExperimentCreateRequest true "Experiment definition"
// @Success      201 {object} model.ExperimentCreateResponse
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/experiments [post]
func (h *ExperimentHandler) Create(c *fiber.Ctx) error {
	var req model.ExperimentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// GetRouting handles GET /api/experiments/routing/:patternId
// @Summary      Get fix routing
// @Description  Which variant to apply for an error pattern: winner when concluded, coin flip while running
// @Tags         Experiments
// @Produce      json
// @Param        patternId path string true "Error pattern ID"
// @Success      200 {object} model.FixRouting
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/experiments/routing/{patternId} [get]
func (h *ExperimentHandler) GetRouting(c *fiber.Ctx) error {
	patternID := c.Params("patternId")
	if patternID == "" {
		return response.ValidationError(c, "Pattern ID is required", nil)
	}

	result, err := h.service.GetRouting(c.Context(), patternID)
	if err != nil {
		if errors.Is(err, service.ErrNoExperiment) {
			return response.NotFound(c, "No experiment for this error pattern")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// RecordResult handles POST /api/experiments/:id/results
// @Summary      Record trial result
// @Description  Append one trial outcome; counters update atomically
// @Tags         Experiments
// @Accept       json
// @Produce      json
// @Param        id path string true "Experiment ID"
// @Param        request body model.ExperimentResultRequest true "Trial result"
// @Success      200 {object} map[string]bool
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/experiments/{id}/results [post]
func (h *ExperimentHandler) RecordResult(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Experiment ID is required", nil)
	}

	var req model.ExperimentResultRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.RecordResult(c.Context(), id, &req); err != nil {
		if errors.Is(err, service.ErrExperimentNotFound) {
			return response.NotFound(c, "Experiment not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"ok": true})
}

// Conclude handles POST /api/experiments/:id/conclude
// @Summary      Conclude experiment
// @Description  Set the winning variant; subsequent routing is deterministic
// @Tags         Experiments
// @Accept       json
// @Produce      json
// @Param        id path string true "Experiment ID"
// @Param        request body model.ExperimentConcludeRequest true "Winner"
// @Success      200 {object} map[string]bool
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/experiments/{id}/conclude [post]
func (h *ExperimentHandler) Conclude(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Experiment ID is required", nil)
	}

	var req model.ExperimentConcludeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.Conclude(c.Context(), id, req.Winner); err != nil {
		if errors.Is(err, service.ErrExperimentNotFound) {
			return response.NotFound(c, "Experiment not found")
		}
		if errors.Is(err, service.ErrExperimentConcluded) {
			return response.ValidationError(c, "Experiment already concluded", nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"ok": true})
}

// GetStats handles GET /api/experiments/:id
// @Summary      Get experiment stats
// @Description  Aggregated trial counts and success rates per variant
// @Tags         Experiments
// @Produce      json
// @Param        id path string true "Experiment ID"
// @Success      200 {object} model.ExperimentStatsResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/experiments/{id} [get]
func (h *ExperimentHandler) GetStats(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Experiment ID is required", nil)
	}

	result, err := h.service.GetStats(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrExperimentNotFound) {
			return response.NotFound(c, "Experiment not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
