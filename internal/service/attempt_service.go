package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

// Attempt admission failures.
var (
	ErrAttemptsExhausted = errors.New("attempt limit reached")
	ErrPracticeDisabled  = errors.New("practice submissions are not allowed")
	ErrAssignmentNotOpen = errors.New("assignment is not accepting submissions")
)

// AttemptsSummary reports attempt budget state for one (assignment, user).
// Remaining is nil when attempts are unlimited.
type AttemptsSummary struct {
	Used          int64  `json:"used"`
	Max           uint32 `json:"max"`
	Remaining     *int64 `json:"remaining,omitempty"`
	LimitAttempts bool   `json:"limit_attempts"`
}

// AttemptService decides whether a new submission is admissible.
type AttemptService interface {
	Summary(ctx context.Context, assignmentID, userID uint) (AttemptsSummary, error)
	Admit(ctx context.Context, assignmentID uint, user models.User, isPractice bool) (AttemptsSummary, error)
}

type attemptService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	store       *storage.Store
	configs     configLoader
	logger      zerolog.Logger
	now         func() time.Time
}

// configLoader narrows config access so tests can substitute a fixed config.
type configLoader func(path string) (*execconfig.Config, error)

// NewAttemptService builds a new attempt service.
func NewAttemptService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, store *storage.Store, configs configLoader, logger zerolog.Logger) AttemptService {
	return &attemptService{
		assignments: assignments,
		submissions: submissions,
		store:       store,
		configs:     configs,
		logger:      logger.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

func (s *attemptService) Summary(ctx context.Context, assignmentID, userID uint) (AttemptsSummary, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return AttemptsSummary{}, wrapNotFound(err)
	}

	cfg, err := s.configs(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return AttemptsSummary{}, err
	}

	used, err := s.submissions.CountedAttempts(ctx, assignmentID, userID)
	if err != nil {
		return AttemptsSummary{}, err
	}

	summary := AttemptsSummary{
		Used:          used,
		Max:           cfg.Marking.MaxAttempts,
		LimitAttempts: cfg.Marking.LimitAttempts,
	}
	if cfg.Marking.LimitAttempts {
		remaining := int64(cfg.Marking.MaxAttempts) - used
		if remaining < 0 {
			remaining = 0
		}
		summary.Remaining = &remaining
	}

	return summary, nil
}

// Admit checks whether user may submit a new attempt. Staff always pass.
// Practice attempts never consume budget but require the config to allow
// them. Late submissions are admissible; lateness is informational only.
func (s *attemptService) Admit(ctx context.Context, assignmentID uint, user models.User, isPractice bool) (AttemptsSummary, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return AttemptsSummary{}, wrapNotFound(err)
	}

	summary, err := s.Summary(ctx, assignmentID, user.ID)
	if err != nil {
		return AttemptsSummary{}, err
	}

	if models.IsStaff(user.Role) {
		return summary, nil
	}

	if !assignment.AcceptsSubmissions() {
		return summary, ErrAssignmentNotOpen
	}

	cfg, err := s.configs(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return AttemptsSummary{}, err
	}

	if isPractice {
		if !cfg.Marking.AllowPracticeSubmissions {
			return summary, ErrPracticeDisabled
		}
		return summary, nil
	}

	if cfg.Marking.LimitAttempts && summary.Used >= int64(cfg.Marking.MaxAttempts) {
		s.logger.Debug().
			Uint("assignment_id", assignmentID).
			Uint("user_id", user.ID).
			Int64("used", summary.Used).
			Msg("attempt rejected, budget exhausted")
		return summary, ErrAttemptsExhausted
	}

	return summary, nil
}
