package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/service"
	"github.com/COS301-SE-2025/fitchfork-go/internal/utils"
)

// StatsHandler serves aggregate statistics and the grade export.
type StatsHandler struct {
	stats  service.StatsService
	logger zerolog.Logger
}

// NewStatsHandler constructs the handler.
func NewStatsHandler(stats service.StatsService, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With().Str("component", "stats_handler").Logger(),
	}
}

// Register attaches stats routes under /assignments/:id. Both are staff-only.
func (h *StatsHandler) Register(assignments fiber.Router, staff fiber.Handler) {
	assignments.Get("/:id/stats", staff, h.get)
	assignments.Get("/:id/export", staff, h.exportCSV)
}

func (h *StatsHandler) get(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	stats, err := h.stats.Stats(c.Context(), assignmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "statistics retrieved", stats)
}

func (h *StatsHandler) exportCSV(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	csv, err := h.stats.ExportCSV(c.Context(), assignmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="assignment_%d_grades.csv"`, assignmentID))
	return c.Send(csv)
}

func (h *StatsHandler) handleError(c *fiber.Ctx, err error) error {
	if errors.Is(err, service.ErrAssignmentNotFound) {
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	}
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
