package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

// ErrTaskNotFound indicates the requested task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// AssignmentService manages assignments, their tasks and the on-disk
// artefacts every grading run reads: the execution config, the instructor
// archives and the mark allocator.
type AssignmentService interface {
	List(ctx context.Context, filter repository.AssignmentFilter) ([]models.Assignment, int64, error)
	Get(ctx context.Context, id uint) (models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id uint) error

	ListTasks(ctx context.Context, assignmentID uint) ([]models.AssignmentTask, error)
	CreateTask(ctx context.Context, task *models.AssignmentTask) error
	UpdateTask(ctx context.Context, task *models.AssignmentTask) error
	DeleteTask(ctx context.Context, taskID uint) error

	GetConfig(ctx context.Context, assignmentID uint) (execconfig.Config, error)
	PutConfig(ctx context.Context, assignmentID uint, document []byte) (execconfig.Config, error)

	GetAllocator(ctx context.Context, assignmentID uint) (allocator.Allocator, error)
	PutAllocator(ctx context.Context, assignmentID uint, document []byte) (allocator.Allocator, error)
	GenerateAllocator(ctx context.Context, assignmentID uint) (allocator.Allocator, error)

	StoreArchive(ctx context.Context, assignmentID uint, kind, filename string, content []byte) error
}

// Archive kinds accepted by StoreArchive.
const (
	ArchiveMain        = "main"
	ArchiveMemo        = "memo"
	ArchiveMakefile    = "makefile"
	ArchiveInterpreter = "interpreter"
)

// ErrUnknownArchiveKind indicates an unsupported archive slot name.
var ErrUnknownArchiveKind = errors.New("unknown archive kind")

type assignmentService struct {
	assignments repository.AssignmentRepository
	tasks       repository.TaskRepository
	store       *storage.Store
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(
	assignments repository.AssignmentRepository,
	tasks repository.TaskRepository,
	store *storage.Store,
	validate *validator.Validate,
	logger zerolog.Logger,
) AssignmentService {
	return &assignmentService{
		assignments: assignments,
		tasks:       tasks,
		store:       store,
		validator:   validate,
		logger:      logger.With().Str("component", "assignment_service").Logger(),
		now:         time.Now,
	}
}

func (s *assignmentService) List(ctx context.Context, filter repository.AssignmentFilter) ([]models.Assignment, int64, error) {
	return s.assignments.ListWithFilter(ctx, filter)
}

func (s *assignmentService) Get(ctx context.Context, id uint) (models.Assignment, error) {
	assignment, err := s.assignments.GetWithTasks(ctx, id)
	if err != nil {
		return models.Assignment{}, wrapNotFound(err)
	}
	return assignment, nil
}

func (s *assignmentService) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.Status == "" {
		assignment.Status = models.AssignmentStatusSetup
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return err
	}
	s.logger.Info().Uint("assignment_id", assignment.ID).Msg("assignment created")
	return nil
}

func (s *assignmentService) Update(ctx context.Context, assignment *models.Assignment) error {
	if _, err := s.assignments.GetByID(ctx, assignment.ID); err != nil {
		return wrapNotFound(err)
	}
	return s.assignments.Update(ctx, assignment)
}

func (s *assignmentService) Delete(ctx context.Context, id uint) error {
	if err := s.assignments.Delete(ctx, id); err != nil {
		return wrapNotFound(err)
	}
	return nil
}

func (s *assignmentService) ListTasks(ctx context.Context, assignmentID uint) ([]models.AssignmentTask, error) {
	if _, err := s.assignments.GetByID(ctx, assignmentID); err != nil {
		return nil, wrapNotFound(err)
	}
	return s.tasks.ListByAssignment(ctx, assignmentID)
}

func (s *assignmentService) CreateTask(ctx context.Context, task *models.AssignmentTask) error {
	if _, err := s.assignments.GetByID(ctx, task.AssignmentID); err != nil {
		return wrapNotFound(err)
	}
	return s.tasks.Create(ctx, task)
}

func (s *assignmentService) UpdateTask(ctx context.Context, task *models.AssignmentTask) error {
	if _, err := s.tasks.GetByID(ctx, task.ID); err != nil {
		return mapNotFound(err, ErrTaskNotFound)
	}
	return s.tasks.Update(ctx, task)
}

func (s *assignmentService) DeleteTask(ctx context.Context, taskID uint) error {
	if err := s.tasks.Delete(ctx, taskID); err != nil {
		return mapNotFound(err, ErrTaskNotFound)
	}
	return nil
}

func (s *assignmentService) GetConfig(ctx context.Context, assignmentID uint) (execconfig.Config, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return execconfig.Config{}, wrapNotFound(err)
	}
	return execconfig.Load(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID), s.validator)
}

// PutConfig validates the incoming document against the defaults and writes
// it atomically. Invalid documents never reach disk.
func (s *assignmentService) PutConfig(ctx context.Context, assignmentID uint, document []byte) (execconfig.Config, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return execconfig.Config{}, wrapNotFound(err)
	}

	cfg, err := execconfig.Parse(document, s.validator)
	if err != nil {
		return execconfig.Config{}, err
	}

	payload, err := cfg.Marshal()
	if err != nil {
		return execconfig.Config{}, err
	}
	if err := s.store.WriteFileAtomic(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID), payload); err != nil {
		return execconfig.Config{}, err
	}

	s.logger.Info().Uint("assignment_id", assignmentID).Msg("execution config updated")
	return cfg, nil
}

func (s *assignmentService) GetAllocator(ctx context.Context, assignmentID uint) (allocator.Allocator, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return allocator.Allocator{}, wrapNotFound(err)
	}
	return allocator.Load(s.store.Layout().AllocatorPath(assignment.ModuleID, assignment.ID))
}

func (s *assignmentService) PutAllocator(ctx context.Context, assignmentID uint, document []byte) (allocator.Allocator, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return allocator.Allocator{}, wrapNotFound(err)
	}

	var alloc allocator.Allocator
	if err := alloc.UnmarshalJSON(document); err != nil {
		return allocator.Allocator{}, fmt.Errorf("%w: %v", allocator.ErrAllocatorInvalid, err)
	}
	if err := alloc.Validate(); err != nil {
		return allocator.Allocator{}, err
	}

	payload, err := alloc.Marshal()
	if err != nil {
		return allocator.Allocator{}, err
	}
	if err := s.store.WriteFileAtomic(s.store.Layout().AllocatorPath(assignment.ModuleID, assignment.ID), payload); err != nil {
		return allocator.Allocator{}, err
	}

	return alloc, nil
}

// GenerateAllocator derives a fresh allocator from the captured memo outputs:
// each delimiter section becomes a subsection worth one point per non-empty
// line.
func (s *assignmentService) GenerateAllocator(ctx context.Context, assignmentID uint) (allocator.Allocator, error) {
	assignment, err := s.assignments.GetWithTasks(ctx, assignmentID)
	if err != nil {
		return allocator.Allocator{}, wrapNotFound(err)
	}

	cfg, err := execconfig.Load(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID), s.validator)
	if err != nil {
		return allocator.Allocator{}, err
	}

	sources := make([]allocator.MemoSource, 0, len(assignment.Tasks))
	for _, task := range assignment.Tasks {
		blob, err := s.store.ReadMemoOutput(assignment.ModuleID, assignment.ID, task.TaskNumber)
		if err != nil {
			return allocator.Allocator{}, fmt.Errorf("%w: memo output for task %d missing", ErrNotReadyToGrade, task.TaskNumber)
		}
		sources = append(sources, allocator.MemoSource{
			TaskNumber: task.TaskNumber,
			Name:       task.Name,
			Content:    string(blob),
		})
	}

	alloc, err := allocator.Generate(sources, cfg.Marking.Deliminator, s.now().UTC())
	if err != nil {
		return allocator.Allocator{}, err
	}

	payload, err := alloc.Marshal()
	if err != nil {
		return allocator.Allocator{}, err
	}
	if err := s.store.WriteFileAtomic(s.store.Layout().AllocatorPath(assignment.ModuleID, assignment.ID), payload); err != nil {
		return allocator.Allocator{}, err
	}

	s.logger.Info().
		Uint("assignment_id", assignmentID).
		Int("total_value", alloc.TotalValue).
		Msg("mark allocator generated")
	return alloc, nil
}

// StoreArchive saves an instructor archive into its slot, replacing any
// previous upload of the same name.
func (s *assignmentService) StoreArchive(ctx context.Context, assignmentID uint, kind, filename string, content []byte) error {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return wrapNotFound(err)
	}

	layout := s.store.Layout()
	var dir string
	switch kind {
	case ArchiveMain:
		dir = layout.MainDir(assignment.ModuleID, assignment.ID)
	case ArchiveMemo:
		dir = layout.MemoDir(assignment.ModuleID, assignment.ID)
	case ArchiveMakefile:
		dir = layout.MakefileDir(assignment.ModuleID, assignment.ID)
	case ArchiveInterpreter:
		dir = layout.InterpreterDir(assignment.ModuleID, assignment.ID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArchiveKind, kind)
	}

	return s.store.WriteFileAtomic(filepath.Join(dir, filename), content)
}
