package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lingosum/intake/internal/client"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
	"github.com/lingosum/intake/pkg/response"
)

type SummarizeHandler struct {
	service   *service.TextService
	validator *validator.Validate
}

func NewSummarizeHandler(svc *service.TextService, v *validator.Validate) *SummarizeHandler {
	return &SummarizeHandler{
		service:   svc,
		validator: v,
	}
}

// Summarize handles POST /api/summarize
func (h *SummarizeHandler) Summarize(c *fiber.Ctx) error {
	var req model.SummarizeTextRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Summarize(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmptyText) {
			return response.ValidationError(c, "Please enter some text to summarize", nil)
		}
		if apiErr, ok := client.AsAPIError(err); ok && apiErr.IsValidation() {
			return response.ValidationError(c, apiErr.Error(), nil)
		}
		return response.UpstreamError(c, err.Error())
	}

	return response.OK(c, result)
}

// Languages handles GET /api/languages
func (h *SummarizeHandler) Languages(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"languages": h.service.Languages(c.Context())})
}
