package handler

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/dto"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/service"
	"github.com/COS301-SE-2025/fitchfork-go/internal/utils"
)

var acceptedArchiveTypes = []string{
	"application/zip",
	"application/x-tar",
	"application/gzip",
}

// SubmissionHandler wires upload, inspection and moderation routes.
type SubmissionHandler struct {
	submissions service.SubmissionService
	grading     service.GradingService
	attempts    service.AttemptService
	access      service.AccessService
	gatlam      service.GatlamService
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(
	submissions service.SubmissionService,
	grading service.GradingService,
	attempts service.AttemptService,
	access service.AccessService,
	gatlam service.GatlamService,
	validate *validator.Validate,
	logger zerolog.Logger,
) *SubmissionHandler {
	return &SubmissionHandler{
		submissions: submissions,
		grading:     grading,
		attempts:    attempts,
		access:      access,
		gatlam:      gatlam,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches submission endpoints. Assignment-scoped routes live under
// /assignments/:id in the router; staff guards moderation.
func (h *SubmissionHandler) Register(assignments fiber.Router, submissions fiber.Router, staff fiber.Handler) {
	assignments.Post("/:id/submissions", h.upload)
	assignments.Get("/:id/submissions", staff, h.list)
	assignments.Get("/:id/submissions/mine", h.listMine)
	assignments.Get("/:id/attempts", h.attemptsSummary)
	assignments.Post("/:id/access/verify", h.verifyAccess)

	submissions.Get("/:id", h.get)
	submissions.Patch("/:id/ignore", staff, h.setIgnored)
	submissions.Post("/:id/regrade", staff, h.regrade)
	submissions.Post("/:id/gatlam", staff, h.runGatlam)
}

func (h *SubmissionHandler) upload(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "submission file missing")
	}

	content, err := readMultipartFile(file)
	if err != nil {
		return h.internalError(c, err)
	}
	if !isArchiveContent(content) {
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, "submission must be a zip, tar or gzip archive")
	}

	isPractice := strings.EqualFold(c.FormValue("is_practice"), "true")

	submission, err := h.grading.Submit(c.Context(), assignmentID, userFromContext(c), file.Filename, content, isPractice)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission graded",
		dto.NewSubmissionResponse(submission, true))
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	page, _ := parseQueryInt(c, "page")
	pageSize, _ := parseQueryInt(c, "page_size")
	userID, _ := parseQueryInt(c, "user_id")

	filter := repository.SubmissionFilter{
		AssignmentID: assignmentID,
		Status:       c.Query("status"),
		Page:         page,
		PageSize:     pageSize,
	}
	if userID > 0 {
		filter.UserID = uint(userID)
	}

	submissions, total, err := h.submissions.List(c.Context(), filter)
	if err != nil {
		return h.internalError(c, err)
	}

	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, sub := range submissions {
		items = append(items, dto.NewSubmissionResponse(sub, false))
	}

	return utils.SendSuccess(c, "submissions retrieved", fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *SubmissionHandler) listMine(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.submissions.ListForUser(c.Context(), assignmentID, userIDFromContext(c))
	if err != nil {
		return h.internalError(c, err)
	}

	items := make([]dto.SubmissionResponse, 0, len(submissions))
	for _, sub := range submissions {
		items = append(items, dto.NewSubmissionResponse(sub, false))
	}

	return utils.SendSuccess(c, "submissions retrieved", items)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.submissions.Get(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	// students may only read their own attempts
	user := userFromContext(c)
	if !models.IsStaff(user.Role) && submission.UserID != user.ID {
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}

	return utils.SendSuccess(c, "submission retrieved", dto.NewSubmissionResponse(submission, true))
}

func (h *SubmissionHandler) setIgnored(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.IgnoreRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.submissions.SetIgnored(c.Context(), id, payload.Ignored)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission updated", dto.NewSubmissionResponse(submission, false))
}

func (h *SubmissionHandler) regrade(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.grading.Regrade(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission regraded", dto.NewSubmissionResponse(submission, true))
}

func (h *SubmissionHandler) runGatlam(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	best, err := h.gatlam.RunSearch(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotGatlamMode) {
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "adversarial search completed", fiber.Map{
		"genes":      best.Genes,
		"fitness":    best.Fitness,
		"generation": best.Generation,
	})
}

func (h *SubmissionHandler) attemptsSummary(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	summary, err := h.attempts.Summary(c.Context(), assignmentID, userIDFromContext(c))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempts retrieved", summary)
}

func (h *SubmissionHandler) verifyAccess(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AccessVerifyRequest
	if err := c.BodyParser(&payload); err != nil {
		payload.Pin = ""
	}

	decision, err := h.access.Verify(c.Context(), assignmentID, userFromContext(c), c.IP(), payload.Pin)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIPNotAllowed):
			return utils.SendError(c, fiber.StatusForbidden, "client address is not allowed")
		case errors.Is(err, service.ErrPinMismatch):
			return utils.SendError(c, fiber.StatusForbidden, "incorrect pin")
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "access granted", decision)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrAssignmentNotOpen):
		return utils.SendError(c, fiber.StatusConflict, "assignment is not accepting submissions")
	case errors.Is(err, service.ErrAttemptsExhausted):
		return utils.SendError(c, fiber.StatusForbidden, "attempt limit reached")
	case errors.Is(err, service.ErrPracticeDisabled):
		return utils.SendError(c, fiber.StatusForbidden, "practice submissions are not allowed")
	case errors.Is(err, service.ErrDisallowedCode):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, "submission contains disallowed code")
	case errors.Is(err, service.ErrNotReadyToGrade):
		return utils.SendError(c, fiber.StatusConflict, "assignment artefacts are incomplete")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *SubmissionHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}

// isArchiveContent sniffs the upload bytes rather than trusting the filename.
func isArchiveContent(content []byte) bool {
	detected := mimetype.Detect(content)
	for _, accepted := range acceptedArchiveTypes {
		if detected.Is(accepted) {
			return true
		}
	}
	return false
}
