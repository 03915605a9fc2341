package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/prep-agent/backend/internal/intake"
	"github.com/prep-agent/backend/internal/interview"
	"github.com/prep-agent/backend/internal/storage/models"
	"github.com/prep-agent/backend/pkg/logger"
)

type InterviewHandler struct {
	processor *intake.Processor
	store     *interview.Store
}

func NewInterviewHandler(processor *intake.Processor, store *interview.Store) *InterviewHandler {
	return &InterviewHandler{
		processor: processor,
		store:     store,
	}
}

// HandleIntake accepts one extraction tuple, dedups it, and starts a
// research session in the background when possible.
func (h *InterviewHandler) HandleIntake(c *fiber.Ctx) error {
	var req struct {
		Company       string `json:"company"`
		Role          string `json:"role"`
		Interviewer   string `json:"interviewer"`
		ScheduledAt   string `json:"scheduled_at"`
		SourceContext string `json:"source_context"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	fields := models.ExtractedEntities{
		Company:       req.Company,
		Role:          req.Role,
		Interviewer:   req.Interviewer,
		SourceContext: req.SourceContext,
	}

	if req.ScheduledAt != "" {
		scheduled, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "scheduled_at must be RFC3339",
			})
		}
		fields.ScheduledAt = &scheduled
	}

	result, err := h.processor.Process(c.Context(), fields)
	if err != nil {
		if errors.Is(err, intake.ErrMissingCompany) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "company is required",
			})
		}
		logger.Error("Intake failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process interview",
		})
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(fiber.Map{
		"interview":        result.Record,
		"created":          result.Created,
		"session_started":  result.SessionStarted,
		"session_conflict": result.SessionConflict,
	})
}

// GetUnprepped lists records still awaiting research, oldest first.
func (h *InterviewHandler) GetUnprepped(c *fiber.Ctx) error {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	records, err := h.store.FindUnprepped(c.Context(), limit, nil)
	if err != nil {
		logger.Error("Failed to list unprepped interviews", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list interviews",
		})
	}

	return c.JSON(fiber.Map{
		"interviews": records,
		"count":      len(records),
	})
}

// GetStats returns the status distribution.
func (h *InterviewHandler) GetStats(c *fiber.Ctx) error {
	counts, err := h.store.StatusCounts(c.Context())
	if err != nil {
		logger.Error("Failed to compute status counts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute stats",
		})
	}

	return c.JSON(fiber.Map{
		"status_counts": counts,
	})
}

// GetInterview returns one record with its research payload and scores.
func (h *InterviewHandler) GetInterview(c *fiber.Ctx) error {
	rec, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, interview.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Interview not found",
			})
		}
		logger.Error("Failed to load interview", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load interview",
		})
	}

	return c.JSON(fiber.Map{"interview": rec})
}

// GetHistory returns the record's change log.
func (h *InterviewHandler) GetHistory(c *fiber.Ctx) error {
	changes, err := h.store.History(c.Context(), c.Params("id"))
	if err != nil {
		logger.Error("Failed to load interview history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load history",
		})
	}

	return c.JSON(fiber.Map{"history": changes})
}

// HandleTransition applies an explicit lifecycle move.
func (h *InterviewHandler) HandleTransition(c *fiber.Ctx) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status is required",
		})
	}

	err := h.store.Transition(c.Context(), c.Params("id"), models.InterviewStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, interview.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Interview not found",
			})
		case errors.Is(err, interview.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			logger.Error("Transition failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to apply transition",
			})
		}
	}

	return c.JSON(fiber.Map{"status": req.Status})
}

// HandleArchive moves a record to the archived terminal state.
func (h *InterviewHandler) HandleArchive(c *fiber.Ctx) error {
	err := h.store.Archive(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, interview.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Interview not found",
			})
		case errors.Is(err, interview.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			logger.Error("Archive failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to archive interview",
			})
		}
	}

	return c.JSON(fiber.Map{"status": string(models.StatusArchived)})
}
