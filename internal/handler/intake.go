package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/lingosum/intake/internal/batch"
	"github.com/lingosum/intake/internal/intake"
	"github.com/lingosum/intake/internal/model"
	"github.com/lingosum/intake/internal/service"
	"github.com/lingosum/intake/pkg/response"
)

type IntakeHandler struct {
	service   *service.IntakeService
	batches   *service.BatchService
	validator *validator.Validate
}

// NewIntakeHandler creates the session handler. batches may be nil, in which
// case asynchronous batches are refused.
func NewIntakeHandler(svc *service.IntakeService, batches *service.BatchService, v *validator.Validate) *IntakeHandler {
	return &IntakeHandler{
		service:   svc,
		batches:   batches,
		validator: v,
	}
}

// CreateSession handles POST /api/sessions
func (h *IntakeHandler) CreateSession(c *fiber.Ctx) error {
	return response.Created(c, h.service.CreateSession())
}

// GetSession handles GET /api/sessions/:sessionId
func (h *IntakeHandler) GetSession(c *fiber.Ctx) error {
	result, err := h.service.GetSession(c.Params("sessionId"))
	if err != nil {
		return sessionError(c, err)
	}
	return response.OK(c, result)
}

// CloseSession handles DELETE /api/sessions/:sessionId
func (h *IntakeHandler) CloseSession(c *fiber.Ctx) error {
	if err := h.service.CloseSession(c.Context(), c.Params("sessionId")); err != nil {
		return sessionError(c, err)
	}
	return response.NoContent(c)
}

// AddFiles handles POST /api/sessions/:sessionId/files
func (h *IntakeHandler) AddFiles(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Invalid multipart form", nil)
	}

	files := form.File["file"]
	if len(files) == 0 {
		return response.ValidationError(c, "File is required", nil)
	}

	candidates := make([]*model.UploadCandidate, 0, len(files))
	for _, fh := range files {
		candidate, err := readCandidate(fh, h.service.MaxBytes())
		if err != nil {
			return response.ServiceError(c, "Failed to read file")
		}
		candidates = append(candidates, candidate)
	}

	result, err := h.service.AddFiles(c.Context(), c.Params("sessionId"), candidates)
	if err != nil {
		return sessionError(c, err)
	}

	// A single rejected file is an error; otherwise rejections are listed
	if len(files) == 1 && len(result.Rejected) == 1 {
		return rejectionError(c, result.Rejected[0])
	}

	return response.Created(c, result)
}

// AttachShared handles POST /api/sessions/:sessionId/shared
func (h *IntakeHandler) AttachShared(c *fiber.Ctx) error {
	var req model.AttachSharedRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	item, err := h.service.AttachShared(c.Context(), c.Params("sessionId"), &req)
	if err != nil {
		var rejection *intake.RejectionError
		if errors.As(err, &rejection) {
			return rejectionError(c, model.RejectedFile{
				Name:   req.Name,
				Code:   string(rejection.Reason),
				Reason: rejection.Error(),
			})
		}
		return sessionError(c, err)
	}

	return response.Created(c, item)
}

// RemoveFile handles DELETE /api/sessions/:sessionId/files/:handle
func (h *IntakeHandler) RemoveFile(c *fiber.Ctx) error {
	handle := c.Params("handle")
	if handle == "" {
		return response.ValidationError(c, "Handle is required", nil)
	}

	if err := h.service.RemoveItem(c.Context(), c.Params("sessionId"), model.Handle(handle)); err != nil {
		return sessionError(c, err)
	}
	return response.NoContent(c)
}

// StartBatch handles POST /api/sessions/:sessionId/batches
func (h *IntakeHandler) StartBatch(c *fiber.Ctx) error {
	var req model.StartBatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	sessionID := c.Params("sessionId")
	opts := service.BatchOptions{
		TargetLanguage:     req.TargetLanguage,
		Bounds:             model.LengthBounds{Min: req.MinLength, Max: req.MaxLength},
		PreserveFormatting: req.PreserveFormatting,
		Mode:               req.Mode,
	}

	if req.Async {
		if h.batches == nil {
			return response.ServiceError(c, "Asynchronous batches are not available")
		}
		result, err := h.batches.StartBatch(c.Context(), sessionID, opts)
		if err != nil {
			return batchError(c, err, nil)
		}
		return response.Accepted(c, result)
	}

	result, err := h.service.RunBatch(c.Context(), sessionID, opts)
	if err != nil {
		return batchError(c, err, result)
	}
	return response.OK(c, result)
}

// readCandidate reads at most maxBytes+1 bytes; anything larger is rejected on
// its declared size before the payload matters.
func readCandidate(fh *multipart.FileHeader, maxBytes int64) (*model.UploadCandidate, error) {
	candidate := &model.UploadCandidate{
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: fh.Header.Get("Content-Type"),
	}
	if fh.Size > maxBytes {
		return candidate, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	payload, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	candidate.Payload = payload
	candidate.Size = int64(len(payload))
	return candidate, nil
}

func rejectionError(c *fiber.Ctx, rejected model.RejectedFile) error {
	if rejected.Code == string(intake.ReasonSizeExceeded) {
		return response.FileTooLarge(c, rejected.Reason)
	}
	return response.UnsupportedType(c, rejected.Reason)
}

func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return response.NotFound(c, "Session not found")
	case errors.Is(err, service.ErrItemNotFound):
		return response.NotFound(c, "File not found")
	case errors.Is(err, service.ErrItemExists):
		return response.Conflict(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}

func batchError(c *fiber.Ctx, err error, result *model.RenderModel) error {
	switch {
	case errors.Is(err, batch.ErrAggregateFailure):
		return response.BatchFailed(c, fmt.Sprintf("Processing failed: %v", err), result)
	case errors.Is(err, batch.ErrEmptyBatch):
		return response.ValidationError(c, "Please select files to process", nil)
	case errors.Is(err, service.ErrBatchRunning):
		return response.Conflict(c, err.Error())
	default:
		return sessionError(c, err)
	}
}
