package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/archive"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/evaluator"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/gatlam"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/sandbox"
)

// ErrNotGatlamMode indicates the assignment is not configured for the
// adversarial search.
var ErrNotGatlamMode = errors.New("assignment submission mode is not gatlam")

// GatlamService runs the genetic adversarial input search against a graded
// submission. Each candidate renders its decoded genes through the
// assignment's interpreter, runs every task and scores the captured outputs
// against the memo.
type GatlamService interface {
	RunSearch(ctx context.Context, submissionID uint) (gatlam.Best, error)
}

type gatlamService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	store       *storage.Store
	runner      sandbox.Runner
	configs     configLoader
	image       string
	logger      zerolog.Logger
}

// NewGatlamService builds a new search service over the shared sandbox runner.
func NewGatlamService(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	store *storage.Store,
	runner sandbox.Runner,
	configs configLoader,
	image string,
	logger zerolog.Logger,
) GatlamService {
	return &gatlamService{
		assignments: assignments,
		submissions: submissions,
		store:       store,
		runner:      runner,
		configs:     configs,
		image:       image,
		logger:      logger.With().Str("component", "gatlam_service").Logger(),
	}
}

func (s *gatlamService) RunSearch(ctx context.Context, submissionID uint) (gatlam.Best, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return gatlam.Best{}, mapNotFound(err, ErrSubmissionNotFound)
	}

	assignment, err := s.assignments.GetWithTasks(ctx, submission.AssignmentID)
	if err != nil {
		return gatlam.Best{}, wrapNotFound(err)
	}

	layout := s.store.Layout()
	cfg, err := s.configs(layout.ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return gatlam.Best{}, err
	}
	if cfg.Project.SubmissionMode != execconfig.ModeGatlam {
		return gatlam.Best{}, ErrNotGatlamMode
	}

	sourceDir := filepath.Join(
		layout.AttemptDir(assignment.ModuleID, assignment.ID, submission.UserID, submission.Attempt),
		"source")
	if _, err := os.Stat(sourceDir); err != nil {
		return gatlam.Best{}, fmt.Errorf("%w: extracted submission missing", ErrNotReadyToGrade)
	}

	overlays, cleanup, err := s.prepareOverlays(assignment, cfg)
	if err != nil {
		return gatlam.Best{}, err
	}
	defer cleanup()

	memos, err := s.loadMemoOutputs(assignment)
	if err != nil {
		return gatlam.Best{}, err
	}

	specs := make([]evaluator.TaskSpec, 0, len(assignment.Tasks))
	for range assignment.Tasks {
		specs = append(specs, evaluator.SpecFromConfig(cfg))
	}

	ga, err := gatlam.New(gatlam.ConfigFromExecution(cfg))
	if err != nil {
		return gatlam.Best{}, err
	}
	components, err := gatlam.NewComponents(
		cfg.Gatlam.Omega1, cfg.Gatlam.Omega2, cfg.Gatlam.Omega3, ga.BitsPerGene())
	if err != nil {
		return gatlam.Best{}, err
	}

	evaluate := func(ctx context.Context, genes []int32) (int, int, error) {
		return s.evaluateCandidate(ctx, assignment, cfg, sourceDir, overlays, memos, specs, genes)
	}

	search := gatlam.NewSearch(ga, components, evaluate, cfg.Gatlam.MaxParallelChromosomes, s.logger)
	best, err := search.Run(ctx)
	if err != nil {
		return best, err
	}

	s.logger.Info().
		Uint("submission_id", submissionID).
		Float64("fitness", best.Fitness).
		Int("generation", best.Generation).
		Msg("adversarial search finished")
	return best, nil
}

// prepareOverlays extracts the main, makefile and interpreter archives once;
// every candidate reuses them when assembling its working directory.
func (s *gatlamService) prepareOverlays(assignment models.Assignment, cfg *execconfig.Config) ([]string, func(), error) {
	layout := s.store.Layout()
	var dirs []string
	cleanup := func() {
		for _, dir := range dirs {
			os.RemoveAll(dir)
		}
	}

	for _, src := range []string{
		layout.MainDir(assignment.ModuleID, assignment.ID),
		layout.MakefileDir(assignment.ModuleID, assignment.ID),
		layout.InterpreterDir(assignment.ModuleID, assignment.ID),
	} {
		dir, err := s.extractOverlay(src, cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("%w: %v", ErrNotReadyToGrade, err)
		}
		dirs = append(dirs, dir)
	}

	return dirs, cleanup, nil
}

func (s *gatlamService) extractOverlay(dir string, cfg *execconfig.Config) (string, error) {
	archivePath, err := s.store.FirstArchiveIn(dir)
	if err != nil {
		return "", err
	}

	dest, err := os.MkdirTemp("", "fitchfork-gatlam-")
	if err != nil {
		return "", err
	}
	if err := archive.Extract(archivePath, dest, cfg.Execution.MaxUncompressedSize); err != nil {
		os.RemoveAll(dest)
		return "", err
	}
	return dest, nil
}

func (s *gatlamService) loadMemoOutputs(assignment models.Assignment) ([]evaluator.TaskOutput, error) {
	memos := make([]evaluator.TaskOutput, 0, len(assignment.Tasks))
	for _, task := range assignment.Tasks {
		blob, err := s.store.ReadMemoOutput(assignment.ModuleID, assignment.ID, task.TaskNumber)
		if err != nil {
			return nil, fmt.Errorf("%w: memo output for task %d missing", ErrNotReadyToGrade, task.TaskNumber)
		}
		memos = append(memos, evaluator.TaskOutput{TaskID: int64(task.ID), Blob: string(blob)})
	}
	return memos, nil
}

// evaluateCandidate runs one decoded candidate: the interpreter renders the
// gene values into the working directory, then every task executes in order
// and the blobs are scored against the memo outputs.
func (s *gatlamService) evaluateCandidate(
	ctx context.Context,
	assignment models.Assignment,
	cfg *execconfig.Config,
	sourceDir string,
	overlays []string,
	memos []evaluator.TaskOutput,
	specs []evaluator.TaskSpec,
	genes []int32,
) (int, int, error) {
	workDir, err := s.store.NewWorkDir()
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err := sandbox.CleanWorkDir(workDir); err != nil {
			s.logger.Error().Err(err).Str("work_dir", workDir).Msg("failed to sweep work dir")
		}
	}()

	layers := append([]string{sourceDir}, overlays...)
	if err := sandbox.AssembleWorkDir(workDir, layers...); err != nil {
		return 0, 0, err
	}

	interpreterCmd := fmt.Sprintf("make interpreter ARGS=%q", genesArg(genes))
	if _, err := s.runner.RunTask(ctx, sandbox.RunRequest{
		Image:   s.image,
		Command: interpreterCmd,
		WorkDir: workDir,
		Limits:  cfg.Execution,
	}); err != nil {
		return 0, 0, fmt.Errorf("run interpreter: %w", err)
	}

	outs := make([]evaluator.TaskOutput, 0, len(assignment.Tasks))
	for _, task := range assignment.Tasks {
		result, err := s.runner.RunTask(ctx, sandbox.RunRequest{
			Image:   s.image,
			Command: task.Command,
			WorkDir: workDir,
			Limits:  cfg.Execution,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("run task %d: %w", task.TaskNumber, err)
		}
		outs = append(outs, evaluator.TaskOutput{TaskID: int64(task.ID), Blob: result.Blob()})
	}

	ltlMilli, failMilli := evaluator.DeriveProps(specs, outs, memos, cfg.Marking.Deliminator)
	return ltlMilli, failMilli, nil
}

// genesArg renders decoded gene values as the comma-separated input string the
// interpreter consumes.
func genesArg(genes []int32) string {
	parts := make([]string, len(genes))
	for i, g := range genes {
		parts[i] = strconv.FormatInt(int64(g), 10)
	}
	return strings.Join(parts, ",")
}
