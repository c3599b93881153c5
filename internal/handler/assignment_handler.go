package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/dto"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/service"
	"github.com/COS301-SE-2025/fitchfork-go/internal/utils"
)

// AssignmentHandler wires assignment, task, config and allocator routes.
type AssignmentHandler struct {
	assignments service.AssignmentService
	readiness   service.ReadinessService
	grading     service.GradingService
	memoTimeout time.Duration
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewAssignmentHandler constructs the handler. memoTimeout bounds how long a
// memo output generation run may hold the request.
func NewAssignmentHandler(
	assignments service.AssignmentService,
	readiness service.ReadinessService,
	grading service.GradingService,
	memoTimeout time.Duration,
	validate *validator.Validate,
	logger zerolog.Logger,
) *AssignmentHandler {
	if memoTimeout <= 0 {
		memoTimeout = 5 * time.Minute
	}
	return &AssignmentHandler{
		assignments: assignments,
		readiness:   readiness,
		grading:     grading,
		memoTimeout: memoTimeout,
		validator:   validate,
		logger:      logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group. Staff is a
// middleware applied to mutating and instructor-only routes.
func (h *AssignmentHandler) Register(router fiber.Router, staff fiber.Handler) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", staff, h.create)
	router.Patch("/:id", staff, h.update)
	router.Delete("/:id", staff, h.delete)

	router.Get("/:id/tasks", h.listTasks)
	router.Post("/:id/tasks", staff, h.createTask)

	router.Get("/:id/readiness", staff, h.getReadiness)
	router.Post("/:id/progress", staff, h.progress)
	router.Post("/:id/archive", staff, h.archive)

	router.Get("/:id/config", staff, h.getConfig)
	router.Put("/:id/config", staff, h.putConfig)

	router.Get("/:id/mark-allocator", staff, h.getAllocator)
	router.Put("/:id/mark-allocator", staff, h.putAllocator)
	router.Post("/:id/mark-allocator/generate", staff, h.generateAllocator)

	router.Post("/:id/files/:kind", staff, h.uploadArchive)
	router.Post("/:id/memo-output/generate", staff, h.generateMemoOutputs)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	page, _ := parseQueryInt(c, "page")
	pageSize, _ := parseQueryInt(c, "page_size")
	moduleID, _ := parseQueryInt(c, "module_id")

	filter := repository.AssignmentFilter{
		Status:   c.Query("status"),
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	}
	if moduleID > 0 {
		filter.ModuleID = uint(moduleID)
	}

	assignments, total, err := h.assignments.List(c.Context(), filter)
	if err != nil {
		return h.internalError(c, err)
	}

	items := make([]dto.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, dto.NewAssignmentResponse(a))
	}

	return utils.SendSuccess(c, "assignments retrieved", fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.assignments.Get(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment retrieved", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment := models.Assignment{
		ModuleID:       payload.ModuleID,
		Name:           payload.Name,
		AssignmentType: payload.AssignmentType,
		AvailableFrom:  payload.AvailableFrom,
		DueDate:        payload.DueDate,
	}
	if assignment.AssignmentType == "" {
		assignment.AssignmentType = models.AssignmentTypeAssignment
	}

	if err := h.assignments.Create(c.Context(), &assignment); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) update(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.AssignmentUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.assignments.Get(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	if payload.Name != nil {
		assignment.Name = *payload.Name
	}
	if payload.AvailableFrom != nil {
		assignment.AvailableFrom = *payload.AvailableFrom
	}
	if payload.DueDate != nil {
		assignment.DueDate = *payload.DueDate
	}

	if err := h.assignments.Update(c.Context(), &assignment); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment updated", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.assignments.Delete(c.Context(), id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}

func (h *AssignmentHandler) listTasks(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	tasks, err := h.assignments.ListTasks(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	items := make([]dto.TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, dto.NewTaskResponse(task))
	}

	return utils.SendSuccess(c, "tasks retrieved", items)
}

func (h *AssignmentHandler) createTask(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.TaskRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	task := models.AssignmentTask{
		AssignmentID: id,
		TaskNumber:   payload.TaskNumber,
		Name:         payload.Name,
		Command:      payload.Command,
		CodeCoverage: payload.CodeCoverage,
	}
	if err := h.assignments.CreateTask(c.Context(), &task); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "task created", dto.NewTaskResponse(task))
}

func (h *AssignmentHandler) getReadiness(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	report, err := h.readiness.Evaluate(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "readiness evaluated", fiber.Map{
		"report":   report,
		"is_ready": report.IsReady(),
	})
}

func (h *AssignmentHandler) progress(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	status, err := h.readiness.Progress(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment progressed", fiber.Map{"status": status})
}

func (h *AssignmentHandler) archive(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.readiness.Archive(c.Context(), id); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "assignment archived", fiber.Map{"id": id})
}

func (h *AssignmentHandler) getConfig(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	cfg, err := h.assignments.GetConfig(c.Context(), id)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "execution config retrieved", cfg)
}

func (h *AssignmentHandler) putConfig(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	cfg, err := h.assignments.PutConfig(c.Context(), id, c.Body())
	if err != nil {
		if errors.Is(err, execconfig.ErrConfigInvalid) {
			return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "execution config updated", cfg)
}

func (h *AssignmentHandler) getAllocator(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	alloc, err := h.assignments.GetAllocator(c.Context(), id)
	if err != nil {
		if errors.Is(err, allocator.ErrAllocatorInvalid) {
			return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "mark allocator retrieved", alloc)
}

func (h *AssignmentHandler) putAllocator(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	alloc, err := h.assignments.PutAllocator(c.Context(), id, c.Body())
	if err != nil {
		if errors.Is(err, allocator.ErrAllocatorInvalid) {
			return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "mark allocator updated", alloc)
}

func (h *AssignmentHandler) generateAllocator(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	alloc, err := h.assignments.GenerateAllocator(c.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotReadyToGrade) {
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "mark allocator generated", alloc)
}

func (h *AssignmentHandler) uploadArchive(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "archive file missing")
	}

	content, err := readMultipartFile(file)
	if err != nil {
		return h.internalError(c, err)
	}

	kind := c.Params("kind")
	if err := h.assignments.StoreArchive(c.Context(), id, kind, file.Filename, content); err != nil {
		if errors.Is(err, service.ErrUnknownArchiveKind) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "archive stored", fiber.Map{
		"kind":     kind,
		"filename": file.Filename,
	})
}

func (h *AssignmentHandler) generateMemoOutputs(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Context(), h.memoTimeout)
	defer cancel()

	if err := h.grading.GenerateMemoOutputs(ctx, id); err != nil {
		if errors.Is(err, service.ErrNotReadyToGrade) {
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		}
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "memo outputs generated", fiber.Map{"id": id})
}

func (h *AssignmentHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrTaskNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "task not found")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *AssignmentHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Msg("internal server error")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
