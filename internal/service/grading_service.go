package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/archive"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/evaluator"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/marker"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/sandbox"
)

// Grading failures surfaced to callers.
var (
	ErrDisallowedCode  = errors.New("submission contains disallowed code")
	ErrNotReadyToGrade = errors.New("assignment artefacts are incomplete")
)

// GradingService admits uploads, runs them through the sandbox and persists
// the marked report. Memo output generation uses the same pipeline on the
// instructor's solution.
type GradingService interface {
	Submit(ctx context.Context, assignmentID uint, user models.User, filename string, content []byte, isPractice bool) (models.Submission, error)
	GenerateMemoOutputs(ctx context.Context, assignmentID uint) error
	Regrade(ctx context.Context, submissionID uint) (models.Submission, error)
}

type gradingService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	attempts    AttemptService
	store       *storage.Store
	runner      sandbox.Runner
	configs     configLoader
	image       string
	slots       *semaphore.Weighted
	admits      *xsync.MapOf[string, *sync.Mutex]
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGradingService builds a grading service. maxConcurrent caps how many
// submissions run sandbox work at once; excess jobs wait.
func NewGradingService(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	attempts AttemptService,
	store *storage.Store,
	runner sandbox.Runner,
	configs configLoader,
	image string,
	maxConcurrent int64,
	logger zerolog.Logger,
) GradingService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &gradingService{
		assignments: assignments,
		submissions: submissions,
		attempts:    attempts,
		store:       store,
		runner:      runner,
		configs:     configs,
		image:       image,
		slots:       semaphore.NewWeighted(maxConcurrent),
		admits:      xsync.NewMapOf[string, *sync.Mutex](),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		now:         time.Now,
	}
}

// Submit admits the upload, records the attempt and grades it synchronously.
// The submission row is created before grading so a failed pipeline leaves a
// pending record visible to staff.
func (s *gradingService) Submit(ctx context.Context, assignmentID uint, user models.User, filename string, content []byte, isPractice bool) (models.Submission, error) {
	assignment, err := s.assignments.GetWithTasks(ctx, assignmentID)
	if err != nil {
		return models.Submission{}, wrapNotFound(err)
	}

	submission, err := s.admitAttempt(ctx, assignment, user, filename, content, isPractice)
	if err != nil {
		return models.Submission{}, err
	}

	if err := s.grade(ctx, assignment, &submission, content); err != nil {
		s.logger.Error().Err(err).
			Uint("submission_id", submission.ID).
			Msg("grading pipeline failed")
		submission.Status = models.SubmissionStatusFailed
		if updateErr := s.submissions.Update(ctx, &submission); updateErr != nil {
			return submission, updateErr
		}
		return submission, err
	}

	return submission, nil
}

// admitAttempt serialises the budget check and attempt allocation per
// (assignment, user). Without the lock two concurrent uploads could both pass
// the budget check and claim the same attempt number; the unique
// (assignment_id, user_id, attempt) index backs this up at the database.
func (s *gradingService) admitAttempt(ctx context.Context, assignment models.Assignment, user models.User, filename string, content []byte, isPractice bool) (models.Submission, error) {
	key := fmt.Sprintf("%d/%d", assignment.ID, user.ID)
	mu, _ := s.admits.LoadOrStore(key, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.attempts.Admit(ctx, assignment.ID, user, isPractice); err != nil {
		return models.Submission{}, err
	}

	attempt, err := s.submissions.MaxAttempt(ctx, assignment.ID, user.ID)
	if err != nil {
		return models.Submission{}, err
	}
	attempt++

	hash := sha256.Sum256(content)
	now := s.now()

	submission := models.Submission{
		AssignmentID: assignment.ID,
		UserID:       user.ID,
		Attempt:      attempt,
		Filename:     filename,
		FileHash:     hex.EncodeToString(hash[:]),
		IsPractice:   isPractice,
		IsLate:       now.After(assignment.DueDate),
		Status:       models.SubmissionStatusPending,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// Regrade reruns the pipeline for an existing submission from its stored
// attempt directory.
func (s *gradingService) Regrade(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return models.Submission{}, mapNotFound(err, ErrSubmissionNotFound)
	}

	assignment, err := s.assignments.GetWithTasks(ctx, submission.AssignmentID)
	if err != nil {
		return models.Submission{}, wrapNotFound(err)
	}

	layout := s.store.Layout()
	archivePath := filepath.Join(
		layout.AttemptDir(assignment.ModuleID, assignment.ID, submission.UserID, submission.Attempt),
		submission.Filename)
	content, err := os.ReadFile(archivePath)
	if err != nil {
		return models.Submission{}, fmt.Errorf("read stored archive: %w", err)
	}

	submission.Status = models.SubmissionStatusPending
	if err := s.grade(ctx, assignment, &submission, content); err != nil {
		submission.Status = models.SubmissionStatusFailed
		if updateErr := s.submissions.Update(ctx, &submission); updateErr != nil {
			return submission, updateErr
		}
		return submission, err
	}

	return submission, nil
}

func (s *gradingService) grade(ctx context.Context, assignment models.Assignment, submission *models.Submission, content []byte) error {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.slots.Release(1)

	layout := s.store.Layout()
	cfg, err := s.configs(layout.ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return err
	}

	alloc, err := allocator.Load(layout.AllocatorPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReadyToGrade, err)
	}

	attemptDir := layout.AttemptDir(assignment.ModuleID, assignment.ID, submission.UserID, submission.Attempt)
	if err := os.MkdirAll(attemptDir, 0o755); err != nil {
		return fmt.Errorf("create attempt dir: %w", err)
	}
	if err := s.store.WriteFileAtomic(filepath.Join(attemptDir, submission.Filename), content); err != nil {
		return fmt.Errorf("store archive: %w", err)
	}

	studentDir := filepath.Join(attemptDir, "source")
	archivePath := filepath.Join(attemptDir, submission.Filename)
	if err := archive.Extract(archivePath, studentDir, cfg.Execution.MaxUncompressedSize); err != nil {
		return fmt.Errorf("extract submission: %w", err)
	}

	if len(cfg.Marking.DisallowedCode) > 0 {
		if hit, err := scanDisallowed(studentDir, cfg.Marking.DisallowedCode); err != nil {
			return err
		} else if hit != "" {
			s.logger.Warn().
				Uint("submission_id", submission.ID).
				Str("pattern", hit).
				Msg("disallowed code detected")
			return ErrDisallowedCode
		}
	}

	blobs, err := s.runTasks(ctx, assignment, cfg, studentDir)
	if err != nil {
		return err
	}

	results := make([]marker.TaskResult, 0, len(assignment.Tasks))
	for _, task := range assignment.Tasks {
		memoBlob, err := s.store.ReadMemoOutput(assignment.ModuleID, assignment.ID, task.TaskNumber)
		if err != nil {
			return fmt.Errorf("%w: memo output for task %d missing", ErrNotReadyToGrade, task.TaskNumber)
		}

		taskEntry, err := alloc.Task(task.TaskNumber)
		if err != nil {
			return fmt.Errorf("%w: allocator entry for task %d missing", ErrNotReadyToGrade, task.TaskNumber)
		}

		subsections := make([]marker.SubsectionSpec, 0, len(taskEntry.Subsections))
		for _, sub := range taskEntry.Subsections {
			subsections = append(subsections, marker.SubsectionSpec{Name: sub.Name, Value: sub.Value})
		}

		memoView := evaluator.Parse(int64(task.ID), string(memoBlob))
		studentView := evaluator.Parse(int64(task.ID), blobs[task.TaskNumber])

		results = append(results, marker.MarkTask(marker.TaskInput{
			TaskID:        task.ID,
			TaskNumber:    task.TaskNumber,
			Name:          task.Name,
			Value:         taskEntry.Value,
			Subsections:   subsections,
			MemoOutput:    memoView.Stdout,
			StudentOutput: studentView.Stdout,
		}, cfg.Marking.MarkingScheme, cfg.Marking.Deliminator))
	}

	report := marker.BuildReport(submission.ID, submission.Attempt, submission.Filename,
		submission.FileHash, submission.IsPractice, submission.IsLate, results, s.now())

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	reportPath := layout.ReportPath(assignment.ModuleID, assignment.ID, submission.UserID, submission.Attempt)
	if err := s.store.WriteFileAtomic(reportPath, reportJSON); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	submission.Status = models.SubmissionStatusGraded
	submission.EarnedMarks = report.Mark.Earned
	submission.TotalMarks = report.Mark.Total
	submission.Report = datatypes.JSON(reportJSON)
	if err := s.submissions.Update(ctx, submission); err != nil {
		return err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("earned", report.Mark.Earned).
		Int("total", report.Mark.Total).
		Msg("submission graded")
	return nil
}

// GenerateMemoOutputs runs the instructor solution through the sandbox once
// per task and stores the captured blobs as the canonical memo outputs.
func (s *gradingService) GenerateMemoOutputs(ctx context.Context, assignmentID uint) error {
	assignment, err := s.assignments.GetWithTasks(ctx, assignmentID)
	if err != nil {
		return wrapNotFound(err)
	}
	if len(assignment.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks declared", ErrNotReadyToGrade)
	}

	layout := s.store.Layout()
	cfg, err := s.configs(layout.ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return err
	}

	memoSrc, err := s.extractArchiveDir(layout.MemoDir(assignment.ModuleID, assignment.ID), cfg)
	if err != nil {
		return fmt.Errorf("%w: memo archive: %v", ErrNotReadyToGrade, err)
	}
	defer os.RemoveAll(memoSrc)

	if err := s.store.ClearMemoOutputs(assignment.ModuleID, assignment.ID); err != nil {
		return err
	}

	blobs, err := s.runTasks(ctx, assignment, cfg, memoSrc)
	if err != nil {
		return err
	}
	for _, task := range assignment.Tasks {
		if err := s.store.WriteMemoOutput(assignment.ModuleID, assignment.ID, task.TaskNumber, []byte(blobs[task.TaskNumber])); err != nil {
			return err
		}
	}

	s.logger.Info().Uint("assignment_id", assignmentID).Int("tasks", len(assignment.Tasks)).Msg("memo outputs generated")
	return nil
}

// runTasks assembles the overlay working directory and executes every task in
// ascending task_number order, returning the raw blob per task number.
func (s *gradingService) runTasks(ctx context.Context, assignment models.Assignment, cfg *execconfig.Config, sourceDir string) (map[int]string, error) {
	layout := s.store.Layout()

	mainSrc, err := s.extractArchiveDir(layout.MainDir(assignment.ModuleID, assignment.ID), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: main archive: %v", ErrNotReadyToGrade, err)
	}
	defer os.RemoveAll(mainSrc)

	makefileSrc, err := s.extractArchiveDir(layout.MakefileDir(assignment.ModuleID, assignment.ID), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: makefile archive: %v", ErrNotReadyToGrade, err)
	}
	defer os.RemoveAll(makefileSrc)

	workDir, err := s.store.NewWorkDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sandbox.CleanWorkDir(workDir); err != nil {
			s.logger.Error().Err(err).Str("work_dir", workDir).Msg("failed to sweep work dir")
		}
	}()

	if err := sandbox.AssembleWorkDir(workDir, sourceDir, mainSrc, makefileSrc); err != nil {
		return nil, err
	}

	blobs := make(map[int]string, len(assignment.Tasks))
	for _, task := range assignment.Tasks {
		result, err := s.runner.RunTask(ctx, sandbox.RunRequest{
			Image:   s.image,
			Command: task.Command,
			WorkDir: workDir,
			Limits:  cfg.Execution,
		})
		if err != nil {
			return nil, fmt.Errorf("run task %d: %w", task.TaskNumber, err)
		}
		blobs[task.TaskNumber] = result.Blob()
	}

	return blobs, nil
}

// extractArchiveDir extracts the first archive in dir into a fresh temp
// directory. The caller removes it.
func (s *gradingService) extractArchiveDir(dir string, cfg *execconfig.Config) (string, error) {
	archivePath, err := s.store.FirstArchiveIn(dir)
	if err != nil {
		return "", err
	}

	dest, err := os.MkdirTemp("", "fitchfork-extract-")
	if err != nil {
		return "", err
	}
	if err := archive.Extract(archivePath, dest, cfg.Execution.MaxUncompressedSize); err != nil {
		os.RemoveAll(dest)
		return "", err
	}
	return dest, nil
}

// scanDisallowed searches extracted source files for forbidden fragments and
// returns the first pattern found.
func scanDisallowed(root string, patterns []string) (string, error) {
	var hit string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || hit != "" || d.IsDir() {
			return err
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		text := string(content)
		for _, pattern := range patterns {
			if pattern != "" && strings.Contains(text, pattern) {
				hit = pattern
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hit, nil
}
