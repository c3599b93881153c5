package service

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

// ErrAssignmentNotFound indicates the requested assignment does not exist.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ReadinessReport lists every artefact an assignment needs before grading
// can run. The interpreter is only required in gatlam submission mode.
type ReadinessReport struct {
	SubmissionMode       string `json:"submission_mode"`
	ConfigPresent        bool   `json:"config_present"`
	TasksPresent         bool   `json:"tasks_present"`
	TasksSequential      bool   `json:"tasks_sequential"`
	MainPresent          bool   `json:"main_present"`
	InterpreterPresent   bool   `json:"interpreter_present"`
	MemoPresent          bool   `json:"memo_present"`
	MakefilePresent      bool   `json:"makefile_present"`
	MemoOutputPresent    bool   `json:"memo_output_present"`
	MarkAllocatorPresent bool   `json:"mark_allocator_present"`
}

// IsReady reports whether every required artefact is in place.
func (r ReadinessReport) IsReady() bool {
	ready := r.ConfigPresent && r.TasksPresent && r.TasksSequential &&
		r.MainPresent && r.MemoPresent && r.MakefilePresent &&
		r.MemoOutputPresent && r.MarkAllocatorPresent
	if r.SubmissionMode == execconfig.ModeGatlam {
		ready = ready && r.InterpreterPresent
	}
	return ready
}

// ReadinessService evaluates assignment readiness and drives the lifecycle
// state machine.
type ReadinessService interface {
	Evaluate(ctx context.Context, assignmentID uint) (ReadinessReport, error)
	TryTransitionToReady(ctx context.Context, assignmentID uint) (bool, error)
	Progress(ctx context.Context, assignmentID uint) (string, error)
	Archive(ctx context.Context, assignmentID uint) error
}

type readinessService struct {
	assignments repository.AssignmentRepository
	tasks       repository.TaskRepository
	store       *storage.Store
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewReadinessService builds a new readiness service.
func NewReadinessService(assignments repository.AssignmentRepository, tasks repository.TaskRepository, store *storage.Store, validate *validator.Validate, logger zerolog.Logger) ReadinessService {
	return &readinessService{
		assignments: assignments,
		tasks:       tasks,
		store:       store,
		validator:   validate,
		logger:      logger.With().Str("component", "readiness_service").Logger(),
		now:         time.Now,
	}
}

func (s *readinessService) Evaluate(ctx context.Context, assignmentID uint) (ReadinessReport, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return ReadinessReport{}, wrapNotFound(err)
	}

	layout := s.store.Layout()
	report := ReadinessReport{SubmissionMode: execconfig.ModeManual}

	configPath := layout.ConfigPath(assignment.ModuleID, assignment.ID)
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err := execconfig.Load(configPath, s.validator); err == nil {
			report.ConfigPresent = true
			report.SubmissionMode = cfg.Project.SubmissionMode
		}
	}

	tasks, err := s.tasks.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return ReadinessReport{}, err
	}
	report.TasksPresent = len(tasks) > 0

	// task numbers must form 1..N with no gaps; marking aligns tasks to
	// allocator entries by number
	report.TasksSequential = len(tasks) > 0
	for i, task := range tasks {
		if task.TaskNumber != i+1 {
			report.TasksSequential = false
			break
		}
	}

	report.MainPresent = s.hasArchive(layout.MainDir(assignment.ModuleID, assignment.ID))
	report.MemoPresent = s.hasArchive(layout.MemoDir(assignment.ModuleID, assignment.ID))
	report.MakefilePresent = s.hasArchive(layout.MakefileDir(assignment.ModuleID, assignment.ID))
	report.InterpreterPresent = s.hasArchive(layout.InterpreterDir(assignment.ModuleID, assignment.ID))

	report.MemoOutputPresent = len(tasks) > 0
	for _, task := range tasks {
		if !s.store.MemoOutputExists(assignment.ModuleID, assignment.ID, task.TaskNumber) {
			report.MemoOutputPresent = false
			break
		}
	}

	if alloc, err := allocator.Load(layout.AllocatorPath(assignment.ModuleID, assignment.ID)); err == nil {
		report.MarkAllocatorPresent = alloc.Validate() == nil
	}

	return report, nil
}

// TryTransitionToReady promotes Setup to Ready when the readiness report
// allows it. Calling it in any other state, or when the report is not ready,
// is a no-op.
func (s *readinessService) TryTransitionToReady(ctx context.Context, assignmentID uint) (bool, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return false, wrapNotFound(err)
	}
	if assignment.Status != models.AssignmentStatusSetup {
		return false, nil
	}

	report, err := s.Evaluate(ctx, assignmentID)
	if err != nil {
		return false, err
	}
	if !report.IsReady() {
		return false, nil
	}

	if err := s.assignments.UpdateStatus(ctx, assignmentID, models.AssignmentStatusReady); err != nil {
		return false, err
	}

	s.logger.Info().Uint("assignment_id", assignmentID).Msg("assignment promoted to ready")
	return true, nil
}

// Progress performs at most one adjacent auto-transition and returns the
// resulting status. Closed and Archived are terminal here.
func (s *readinessService) Progress(ctx context.Context, assignmentID uint) (string, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return "", wrapNotFound(err)
	}

	now := s.now()
	next := assignment.Status

	switch assignment.Status {
	case models.AssignmentStatusSetup:
		promoted, err := s.TryTransitionToReady(ctx, assignmentID)
		if err != nil {
			return "", err
		}
		if promoted {
			next = models.AssignmentStatusReady
		}
		return next, nil
	case models.AssignmentStatusReady:
		if assignment.IsAvailable(now) {
			next = models.AssignmentStatusOpen
		}
	case models.AssignmentStatusOpen:
		switch {
		case assignment.IsPastDue(now):
			next = models.AssignmentStatusClosed
		case !assignment.IsAvailable(now):
			// available_from was pushed into the future
			next = models.AssignmentStatusReady
		}
	}

	if next != assignment.Status {
		if err := s.assignments.UpdateStatus(ctx, assignmentID, next); err != nil {
			return "", err
		}
		s.logger.Info().
			Uint("assignment_id", assignmentID).
			Str("from", assignment.Status).
			Str("to", next).
			Msg("assignment auto-transitioned")
	}

	return next, nil
}

// Archive is the manual terminal transition, allowed from any state.
func (s *readinessService) Archive(ctx context.Context, assignmentID uint) error {
	if err := s.assignments.UpdateStatus(ctx, assignmentID, models.AssignmentStatusArchived); err != nil {
		return wrapNotFound(err)
	}
	s.logger.Info().Uint("assignment_id", assignmentID).Msg("assignment archived")
	return nil
}

func (s *readinessService) hasArchive(dir string) bool {
	_, err := s.store.FirstArchiveIn(dir)
	return err == nil
}
