package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
)

// SubmissionService exposes the read and moderation side of submissions.
// Uploading and grading live on GradingService.
type SubmissionService interface {
	List(ctx context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error)
	ListForUser(ctx context.Context, assignmentID, userID uint) ([]models.Submission, error)
	Get(ctx context.Context, id uint) (models.Submission, error)
	SetIgnored(ctx context.Context, id uint, ignored bool) (models.Submission, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	stats       StatsService
	logger      zerolog.Logger
}

// NewSubmissionService builds a new submission service. Stats are invalidated
// whenever moderation changes which attempts count.
func NewSubmissionService(submissions repository.SubmissionRepository, stats StatsService, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: submissions,
		stats:       stats,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) List(ctx context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error) {
	return s.submissions.ListWithFilter(ctx, filter)
}

func (s *submissionService) ListForUser(ctx context.Context, assignmentID, userID uint) ([]models.Submission, error) {
	return s.submissions.ListByUser(ctx, assignmentID, userID)
}

func (s *submissionService) Get(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return models.Submission{}, mapNotFound(err, ErrSubmissionNotFound)
	}
	return submission, nil
}

func (s *submissionService) SetIgnored(ctx context.Context, id uint, ignored bool) (models.Submission, error) {
	if err := s.submissions.SetIgnored(ctx, id, ignored); err != nil {
		return models.Submission{}, mapNotFound(err, ErrSubmissionNotFound)
	}

	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return models.Submission{}, mapNotFound(err, ErrSubmissionNotFound)
	}

	if s.stats != nil {
		if err := s.stats.InvalidateStats(ctx, submission.AssignmentID); err != nil {
			s.logger.Warn().Err(err).Uint("assignment_id", submission.AssignmentID).Msg("failed to invalidate stats cache")
		}
	}

	s.logger.Info().
		Uint("submission_id", id).
		Bool("ignored", ignored).
		Msg("submission moderation updated")
	return submission, nil
}
