package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
)

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	AssignmentID uint
	UserID       uint
	Status       string
	Page         int
	PageSize     int
}

// SubmissionRepository defines persistence operations for submissions.
type SubmissionRepository interface {
	ListWithFilter(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	ListByUser(ctx context.Context, assignmentID, userID uint) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	SetIgnored(ctx context.Context, id uint, ignored bool) error
	CountedAttempts(ctx context.Context, assignmentID, userID uint) (int64, error)
	MaxAttempt(ctx context.Context, assignmentID, userID uint) (int, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates a GORM-backed repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) ListWithFilter(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AssignmentID != 0 {
		query = query.Where("assignment_id = ?", filter.AssignmentID)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC")

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var submissions []models.Submission
	if err := query.Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("user_id ASC, attempt ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) ListByUser(ctx context.Context, assignmentID, userID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND user_id = ?", assignmentID, userID).
		Order("attempt ASC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}

	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *submissionRepository) SetIgnored(ctx context.Context, id uint, ignored bool) error {
	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Update("ignored", ignored)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountedAttempts counts submissions that consume attempt budget: practice
// and ignored attempts are excluded.
func (r *submissionRepository) CountedAttempts(ctx context.Context, assignmentID, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("assignment_id = ? AND user_id = ? AND is_practice = ? AND ignored = ?", assignmentID, userID, false, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// MaxAttempt returns the highest attempt number this user has recorded for
// the assignment, zero when none exist.
func (r *submissionRepository) MaxAttempt(ctx context.Context, assignmentID, userID uint) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("assignment_id = ? AND user_id = ?", assignmentID, userID).
		Select("MAX(attempt)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}

	return *max, nil
}
