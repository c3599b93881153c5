package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
)

// TaskRepository defines persistence operations for assignment tasks.
type TaskRepository interface {
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.AssignmentTask, error)
	GetByID(ctx context.Context, id uint) (models.AssignmentTask, error)
	Create(ctx context.Context, task *models.AssignmentTask) error
	Update(ctx context.Context, task *models.AssignmentTask) error
	Delete(ctx context.Context, id uint) error
}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository instantiates a GORM-backed repository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.AssignmentTask, error) {
	var tasks []models.AssignmentTask
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("task_number ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

func (r *taskRepository) GetByID(ctx context.Context, id uint) (models.AssignmentTask, error) {
	var task models.AssignmentTask
	if err := r.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return models.AssignmentTask{}, err
	}

	return task, nil
}

func (r *taskRepository) Create(ctx context.Context, task *models.AssignmentTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepository) Update(ctx context.Context, task *models.AssignmentTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *taskRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.AssignmentTask{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
