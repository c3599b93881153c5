package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/marker"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// a second pooled connection would see its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Assignment{}, &models.AssignmentTask{}, &models.Submission{}))
	return db
}

func fixedConfig(cfg *execconfig.Config) configLoader {
	return func(string) (*execconfig.Config, error) {
		return cfg, nil
	}
}

func graded(assignmentID, userID uint, attempt, earned, total int, createdAt time.Time) models.Submission {
	return models.Submission{
		AssignmentID: assignmentID,
		UserID:       userID,
		Attempt:      attempt,
		Filename:     "sub.zip",
		FileHash:     "hash",
		Status:       models.SubmissionStatusGraded,
		EarnedMarks:  earned,
		TotalMarks:   total,
		CreatedAt:    createdAt,
	}
}

func TestRepresentativeBestVsLast(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	a1 := graded(1, 7, 1, 60, 100, base)
	a1.ID = 1
	a2 := graded(1, 7, 2, 90, 100, base.Add(time.Hour))
	a2.ID = 2
	a3 := graded(1, 7, 3, 70, 100, base.Add(2*time.Hour))
	a3.ID = 3
	practice := graded(1, 7, 4, 100, 100, base.Add(3*time.Hour))
	practice.ID = 4
	practice.IsPractice = true

	subs := []models.Submission{a1, a2, a3, practice}

	best := Representative(subs, execconfig.PolicyBest)
	require.NotNil(t, best)
	assert.Equal(t, uint(2), best.ID)

	last := Representative(subs, execconfig.PolicyLast)
	require.NotNil(t, last)
	assert.Equal(t, uint(3), last.ID)
}

func TestRepresentativeIgnoresIgnoredAndEmpty(t *testing.T) {
	sub := graded(1, 7, 1, 50, 100, time.Now())
	sub.Ignored = true

	assert.Nil(t, Representative([]models.Submission{sub}, execconfig.PolicyLast))
	assert.Nil(t, Representative(nil, execconfig.PolicyBest))
}

func statsFixture(t *testing.T) (StatsService, *gorm.DB, models.Assignment, *execconfig.Config) {
	t.Helper()
	db := setupServiceDB(t)

	assignment := models.Assignment{
		ModuleID:       1,
		Name:           "Practical 1",
		AssignmentType: models.AssignmentTypeAssignment,
		Status:         models.AssignmentStatusClosed,
		AvailableFrom:  time.Now().Add(-48 * time.Hour),
		DueDate:        time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, db.Create(&assignment).Error)

	cfg := execconfig.Default()

	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	svc := NewStatsService(
		repository.NewAssignmentRepository(db),
		repository.NewSubmissionRepository(db),
		repository.NewUserRepository(db),
		store,
		fixedConfig(&cfg),
		nil,
		time.Minute,
		testLogger(),
	)
	return svc, db, assignment, &cfg
}

func TestStatsExcludesStaffPracticeAndIgnored(t *testing.T) {
	svc, db, assignment, cfg := statsFixture(t)
	cfg.Marking.PassMark = 50

	student := models.User{Username: "u12345678", Role: models.RoleStudent}
	staff := models.User{Username: "lecturer1", Role: models.RoleLecturer}
	require.NoError(t, db.Create(&student).Error)
	require.NoError(t, db.Create(&staff).Error)

	base := time.Now().Add(-30 * time.Hour)
	subs := []models.Submission{
		graded(assignment.ID, student.ID, 1, 40, 100, base),
		graded(assignment.ID, student.ID, 2, 80, 100, base.Add(time.Hour)),
		graded(assignment.ID, staff.ID, 1, 100, 100, base),
	}
	practice := graded(assignment.ID, student.ID, 3, 100, 100, base.Add(2*time.Hour))
	practice.IsPractice = true
	ignored := graded(assignment.ID, student.ID, 4, 10, 100, base.Add(3*time.Hour))
	ignored.Ignored = true
	subs = append(subs, practice, ignored)

	for i := range subs {
		require.NoError(t, db.Create(&subs[i]).Error)
	}

	stats, err := svc.Stats(context.Background(), assignment.ID)
	require.NoError(t, err)

	// only the student's two counted attempts remain
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Graded)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Ignored)
	assert.Equal(t, 1, stats.NumStudentsSubmitted)

	// default policy is last: representative is the 80% attempt
	assert.Equal(t, 80.0, stats.AvgMark)
	assert.Equal(t, 1, stats.NumPassed)
	assert.Equal(t, 0, stats.NumFailed)
	assert.Equal(t, 0, stats.NumFullMarks)
}

func TestStatsCachesInRedis(t *testing.T) {
	svc, db, assignment, _ := statsFixture(t)

	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	cache := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer cache.Close()

	// rebuild the service with the cache attached
	cfg := execconfig.Default()
	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	svc = NewStatsService(
		repository.NewAssignmentRepository(db),
		repository.NewSubmissionRepository(db),
		repository.NewUserRepository(db),
		store,
		fixedConfig(&cfg),
		cache,
		time.Minute,
		testLogger(),
	)

	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)
	sub := graded(assignment.ID, student.ID, 1, 70, 100, time.Now())
	require.NoError(t, db.Create(&sub).Error)

	first, err := svc.Stats(context.Background(), assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	// a new submission is invisible until the cache is invalidated
	extra := graded(assignment.ID, student.ID, 2, 90, 100, time.Now())
	require.NoError(t, db.Create(&extra).Error)

	second, err := svc.Stats(context.Background(), assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Total)

	require.NoError(t, svc.InvalidateStats(context.Background(), assignment.ID))
	third, err := svc.Stats(context.Background(), assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Total)
}

func TestExportCSVResolvesTaskNames(t *testing.T) {
	svc, db, assignment, _ := statsFixture(t)

	// allocator with two named tasks
	alloc := allocator.Allocator{
		GeneratedAt: time.Now().UTC(),
		Tasks: []allocator.TaskAllocation{
			{Name: "Stacks", TaskNumber: 1, Value: 10, Subsections: []allocator.Subsection{{Name: "A", Value: 10}}},
			{Name: "Queues", TaskNumber: 2, Value: 10, Subsections: []allocator.Subsection{{Name: "B", Value: 10}}},
		},
		TotalValue: 20,
	}
	payload, err := alloc.Marshal()
	require.NoError(t, err)

	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	require.NoError(t, store.WriteFileAtomic(
		store.Layout().AllocatorPath(assignment.ModuleID, assignment.ID), payload))

	cfg := execconfig.Default()
	svc = NewStatsService(
		repository.NewAssignmentRepository(db),
		repository.NewSubmissionRepository(db),
		repository.NewUserRepository(db),
		store,
		fixedConfig(&cfg),
		nil,
		time.Minute,
		testLogger(),
	)

	student := models.User{Username: "u1", Role: models.RoleStudent}
	require.NoError(t, db.Create(&student).Error)

	report := marker.Report{
		Tasks: []marker.ReportTask{
			{Name: "31", TaskNumber: 1, Score: marker.Score{Earned: 10, Total: 10}},
			{Name: "32", TaskNumber: 2, Score: marker.Score{Earned: 5, Total: 10}},
		},
	}
	reportJSON, err := json.Marshal(report)
	require.NoError(t, err)

	sub := graded(assignment.ID, student.ID, 1, 15, 20, time.Now())
	sub.Report = datatypes.JSON(reportJSON)
	require.NoError(t, db.Create(&sub).Error)

	csvBytes, err := svc.ExportCSV(context.Background(), assignment.ID)
	require.NoError(t, err)

	out := string(csvBytes)
	assert.Contains(t, out, "username,score,Stacks,Queues")
	assert.Contains(t, out, "u1,75.0,100.0,50.0")
}
