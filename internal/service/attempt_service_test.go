package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

func attemptFixture(t *testing.T, cfg *execconfig.Config) (AttemptService, *gorm.DB, models.Assignment) {
	t.Helper()
	db := setupServiceDB(t)

	assignment := models.Assignment{
		ModuleID:      1,
		Name:          "Practical 2",
		Status:        models.AssignmentStatusOpen,
		AvailableFrom: time.Now().Add(-time.Hour),
		DueDate:       time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(&assignment).Error)

	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	svc := NewAttemptService(
		repository.NewAssignmentRepository(db),
		repository.NewSubmissionRepository(db),
		store,
		fixedConfig(cfg),
		testLogger(),
	)
	return svc, db, assignment
}

func seedAttempts(t *testing.T, db *gorm.DB, assignmentID, userID uint, count int) {
	t.Helper()
	for i := 1; i <= count; i++ {
		sub := graded(assignmentID, userID, i, 50, 100, time.Now())
		require.NoError(t, db.Create(&sub).Error)
	}
}

func TestAdmitRejectsWhenBudgetExhausted(t *testing.T) {
	cfg := execconfig.Default()
	cfg.Marking.LimitAttempts = true
	cfg.Marking.MaxAttempts = 3

	svc, db, assignment := attemptFixture(t, &cfg)
	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	seedAttempts(t, db, assignment.ID, student.ID, 3)

	summary, err := svc.Admit(context.Background(), assignment.ID, student, false)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, int64(3), summary.Used)
	require.NotNil(t, summary.Remaining)
	assert.Equal(t, int64(0), *summary.Remaining)
}

func TestAdmitPracticeDoesNotConsumeBudget(t *testing.T) {
	cfg := execconfig.Default()
	cfg.Marking.LimitAttempts = true
	cfg.Marking.MaxAttempts = 3
	cfg.Marking.AllowPracticeSubmissions = true

	svc, db, assignment := attemptFixture(t, &cfg)
	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	seedAttempts(t, db, assignment.ID, student.ID, 3)

	// the budget is spent but practice is still admissible
	_, err := svc.Admit(context.Background(), assignment.ID, student, true)
	require.NoError(t, err)

	cfg.Marking.AllowPracticeSubmissions = false
	_, err = svc.Admit(context.Background(), assignment.ID, student, true)
	require.ErrorIs(t, err, ErrPracticeDisabled)
}

func TestAdmitStaffBypassesEverything(t *testing.T) {
	cfg := execconfig.Default()
	cfg.Marking.LimitAttempts = true
	cfg.Marking.MaxAttempts = 1

	svc, db, assignment := attemptFixture(t, &cfg)
	staff := models.User{Username: "lect1", Role: models.RoleLecturer}
	require.NoError(t, db.Create(&staff).Error)

	seedAttempts(t, db, assignment.ID, staff.ID, 5)

	// over budget and the assignment window closed, still admitted
	require.NoError(t, db.Model(&models.Assignment{}).
		Where("id = ?", assignment.ID).
		Update("status", models.AssignmentStatusClosed).Error)

	_, err := svc.Admit(context.Background(), assignment.ID, staff, false)
	require.NoError(t, err)
}

func TestAdmitRequiresOpenAssignment(t *testing.T) {
	cfg := execconfig.Default()

	svc, db, assignment := attemptFixture(t, &cfg)
	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	require.NoError(t, db.Model(&models.Assignment{}).
		Where("id = ?", assignment.ID).
		Update("status", models.AssignmentStatusReady).Error)

	_, err := svc.Admit(context.Background(), assignment.ID, student, false)
	require.ErrorIs(t, err, ErrAssignmentNotOpen)
}

func TestSummaryUnlimitedAttempts(t *testing.T) {
	cfg := execconfig.Default()
	cfg.Marking.LimitAttempts = false

	svc, db, assignment := attemptFixture(t, &cfg)
	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	seedAttempts(t, db, assignment.ID, student.ID, 7)

	summary, err := svc.Summary(context.Background(), assignment.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), summary.Used)
	assert.Nil(t, summary.Remaining)
	assert.False(t, summary.LimitAttempts)
}

func TestSummaryCountsOnlyEligibleAttempts(t *testing.T) {
	cfg := execconfig.Default()
	cfg.Marking.LimitAttempts = true
	cfg.Marking.MaxAttempts = 3

	svc, db, assignment := attemptFixture(t, &cfg)
	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	counted := graded(assignment.ID, student.ID, 1, 50, 100, time.Now())
	require.NoError(t, db.Create(&counted).Error)
	practice := graded(assignment.ID, student.ID, 2, 50, 100, time.Now())
	practice.IsPractice = true
	require.NoError(t, db.Create(&practice).Error)
	ignored := graded(assignment.ID, student.ID, 3, 50, 100, time.Now())
	ignored.Ignored = true
	require.NoError(t, db.Create(&ignored).Error)

	summary, err := svc.Summary(context.Background(), assignment.ID, student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Used)
	require.NotNil(t, summary.Remaining)
	assert.Equal(t, int64(2), *summary.Remaining)
}
