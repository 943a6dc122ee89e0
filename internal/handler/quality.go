package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/amharic-code-craft/orchestrator/internal/middleware"
	"github.com/amharic-code-craft/orchestrator/internal/model"
	"github.com/amharic-code-craft/orchestrator/internal/service"
	"github.com/amharic-code-craft/orchestrator/pkg/response"
)

type QualityHandler struct {
	service   *service.QualityService
	validator *validator.Validate
}

func NewQualityHandler(svc *service.QualityService, v *validator.Validate) *QualityHandler {
	return &QualityHandler{
		service:   svc,
		validator: v,
	}
}

// Evaluate handles POST /api/quality/evaluate
// @Summary      Evaluate quality gate
// @Description  Check metrics against an inline policy, or the caller's stored policy when omitted
// @Tags         Quality
// @Accept       json
// @Produce      json
// @Param        request body model.QualityEvaluateRequest true "Policy and metrics"
// @Success      200 {object} model.QualityVerdict
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/quality/evaluate [post]
func (h *QualityHandler) Evaluate(c *fiber.Ctx) error {
	var req model.QualityEvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if req.Policy != nil {
		return response.OK(c, service.EvaluatePolicy(req.Policy, &req.Metrics))
	}

	verdict, err := h.service.EvaluateForScope(c.Context(), middleware.GetUserID(c), &req.Metrics)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, verdict)
}

// SetPolicy handles PUT /api/quality/policy
// @Summary      Set quality gate policy
// @Description  Store the gate policy for the caller's scope
// @Tags         Quality
// @Accept       json
// @Produce      json
// @Param        request body model.QualityGatePolicy true "Policy"
// @Success      200 {object} model.QualityGatePolicy
// @Failure      400 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/quality/policy [put]
func (h *QualityHandler) SetPolicy(c *fiber.Ctx) error {
	var policy model.QualityGatePolicy
	if err := c.BodyParser(&policy); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&policy); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.SetPolicy(c.Context(), middleware.GetUserID(c), &policy); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, policy)
}

// GetPolicy handles GET /api/quality/policy
// @Summary      Get quality gate policy
// @Description  Get the stored gate policy for the caller's scope
// @Tags         Quality
// @Produce      json
// @Success      200 {object} model.QualityGatePolicy
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/quality/policy [get]
func (h *QualityHandler) GetPolicy(c *fiber.Ctx) error {
	policy, err := h.service.GetPolicy(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrPolicyNotFound) {
			return response.NotFound(c, "No quality gate policy configured")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, policy)
}
