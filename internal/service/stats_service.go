package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/allocator"
	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
	"github.com/COS301-SE-2025/fitchfork-go/pkg/marker"
)

// AssignmentStats aggregates cohort performance over representative
// submissions. Mark statistics are percentages rounded to one decimal.
type AssignmentStats struct {
	Total                int     `json:"total"`
	Graded               int     `json:"graded"`
	Pending              int     `json:"pending"`
	Late                 int     `json:"late"`
	OnTime               int     `json:"on_time"`
	Ignored              int     `json:"ignored"`
	AvgMark              float64 `json:"avg_mark"`
	Median               float64 `json:"median"`
	P75                  float64 `json:"p75"`
	Stddev               float64 `json:"stddev"`
	Best                 float64 `json:"best"`
	Worst                float64 `json:"worst"`
	NumPassed            int     `json:"num_passed"`
	NumFailed            int     `json:"num_failed"`
	NumFullMarks         int     `json:"num_full_marks"`
	TotalMarks           int     `json:"total_marks"`
	NumStudentsSubmitted int     `json:"num_students_submitted"`
}

// StatsService computes cohort statistics and the CSV grade export.
// Practice, ignored and staff submissions never count; per user the
// grading policy picks the representative attempt.
type StatsService interface {
	Stats(ctx context.Context, assignmentID uint) (AssignmentStats, error)
	ExportCSV(ctx context.Context, assignmentID uint) ([]byte, error)
	InvalidateStats(ctx context.Context, assignmentID uint) error
}

type statsService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	store       *storage.Store
	configs     configLoader
	cache       *redis.Client
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewStatsService builds a stats service. The redis cache is optional; a nil
// client disables caching.
func NewStatsService(
	assignments repository.AssignmentRepository,
	submissions repository.SubmissionRepository,
	users repository.UserRepository,
	store *storage.Store,
	configs configLoader,
	cache *redis.Client,
	ttl time.Duration,
	logger zerolog.Logger,
) StatsService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &statsService{
		assignments: assignments,
		submissions: submissions,
		users:       users,
		store:       store,
		configs:     configs,
		cache:       cache,
		ttl:         ttl,
		logger:      logger.With().Str("component", "stats_service").Logger(),
	}
}

// Representative applies the grading policy to one user's attempts:
// practice and ignored attempts are filtered first, then best picks the
// highest ratio (ties: latest created_at, then largest id) and last picks
// the newest (ties: largest id). Returns nil when nothing is eligible.
func Representative(submissions []models.Submission, policy string) *models.Submission {
	var chosen *models.Submission
	for i := range submissions {
		sub := &submissions[i]
		if !sub.CountsTowardAttempts() {
			continue
		}
		if chosen == nil {
			chosen = sub
			continue
		}
		if policy == execconfig.PolicyBest {
			switch {
			case sub.Percentage() > chosen.Percentage():
				chosen = sub
			case sub.Percentage() == chosen.Percentage():
				if sub.CreatedAt.After(chosen.CreatedAt) ||
					(sub.CreatedAt.Equal(chosen.CreatedAt) && sub.ID > chosen.ID) {
					chosen = sub
				}
			}
			continue
		}
		// last
		if sub.CreatedAt.After(chosen.CreatedAt) ||
			(sub.CreatedAt.Equal(chosen.CreatedAt) && sub.ID > chosen.ID) {
			chosen = sub
		}
	}
	return chosen
}

func (s *statsService) Stats(ctx context.Context, assignmentID uint) (AssignmentStats, error) {
	cacheKey := fmt.Sprintf("fitchfork:stats:assignment:%d", assignmentID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			var stats AssignmentStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return stats, nil
			}
		}
	}

	stats, _, _, err := s.compute(ctx, assignmentID)
	if err != nil {
		return AssignmentStats{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to cache assignment stats")
			}
		}
	}

	return stats, nil
}

// InvalidateStats drops the cached aggregate, e.g. after a regrade or an
// ignored toggle.
func (s *statsService) InvalidateStats(ctx context.Context, assignmentID uint) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, fmt.Sprintf("fitchfork:stats:assignment:%d", assignmentID)).Err()
}

func (s *statsService) compute(ctx context.Context, assignmentID uint) (AssignmentStats, map[uint]*models.Submission, map[uint]models.User, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return AssignmentStats{}, nil, nil, wrapNotFound(err)
	}

	cfg, err := s.configs(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return AssignmentStats{}, nil, nil, err
	}

	all, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return AssignmentStats{}, nil, nil, err
	}

	userIDs := make([]uint, 0)
	seen := map[uint]bool{}
	for _, sub := range all {
		if !seen[sub.UserID] {
			seen[sub.UserID] = true
			userIDs = append(userIDs, sub.UserID)
		}
	}
	userList, err := s.users.ListByIDs(ctx, userIDs)
	if err != nil {
		return AssignmentStats{}, nil, nil, err
	}
	usersByID := make(map[uint]models.User, len(userList))
	for _, u := range userList {
		usersByID[u.ID] = u
	}

	var stats AssignmentStats
	byUser := map[uint][]models.Submission{}
	for _, sub := range all {
		if sub.Ignored {
			stats.Ignored++
		}
		if models.IsStaff(usersByID[sub.UserID].Role) {
			continue
		}
		if !sub.CountsTowardAttempts() {
			continue
		}

		stats.Total++
		if sub.IsGraded() {
			stats.Graded++
		}
		if sub.IsLate {
			stats.Late++
		} else {
			stats.OnTime++
		}
		stats.TotalMarks += sub.TotalMarks

		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}
	stats.Pending = stats.Total - stats.Graded

	representatives := map[uint]*models.Submission{}
	percentages := make([]float64, 0, len(byUser))
	for userID, subs := range byUser {
		rep := Representative(subs, cfg.Marking.GradingPolicy)
		if rep == nil {
			continue
		}
		representatives[userID] = rep
		stats.NumStudentsSubmitted++

		pct := rep.Percentage()
		percentages = append(percentages, pct)
		if pct >= float64(cfg.Marking.PassMark) {
			stats.NumPassed++
		} else {
			stats.NumFailed++
		}
		if rep.TotalMarks > 0 && rep.EarnedMarks == rep.TotalMarks {
			stats.NumFullMarks++
		}
	}

	if len(percentages) > 0 {
		sort.Float64s(percentages)
		stats.Best = round1(percentages[len(percentages)-1])
		stats.Worst = round1(percentages[0])
		stats.AvgMark = round1(mean(percentages))
		stats.Median = round1(percentile(percentages, 0.5))
		stats.P75 = round1(percentile(percentages, 0.75))
		stats.Stddev = round1(stddev(percentages))
	}

	return stats, representatives, usersByID, nil
}

// ExportCSV renders the grade sheet: username, overall score, then one
// column per allocator task in allocator order. Task cells hold the
// percentage earned on that task, empty when the representative's report
// does not mention it.
func (s *statsService) ExportCSV(ctx context.Context, assignmentID uint) ([]byte, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, wrapNotFound(err)
	}

	alloc, err := allocator.Load(s.store.Layout().AllocatorPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return nil, fmt.Errorf("load allocator: %w", err)
	}

	_, representatives, usersByID, err := s.compute(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	header := []string{"username", "score"}
	for _, task := range alloc.Tasks {
		header = append(header, task.Name)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	userIDs := make([]uint, 0, len(representatives))
	for id := range representatives {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool {
		return usersByID[userIDs[i]].Username < usersByID[userIDs[j]].Username
	})

	for _, userID := range userIDs {
		rep := representatives[userID]
		row := []string{
			usersByID[userID].Username,
			strconv.FormatFloat(round1(rep.Percentage()), 'f', 1, 64),
		}

		taskPercent := taskPercentages(rep)
		for _, task := range alloc.Tasks {
			if pct, ok := taskPercent[task.TaskNumber]; ok {
				row = append(row, strconv.FormatFloat(round1(pct), 'f', 1, 64))
			} else {
				row = append(row, "")
			}
		}

		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// taskPercentages reads the representative's persisted report and maps task
// number to the percentage earned on that task.
func taskPercentages(sub *models.Submission) map[int]float64 {
	result := map[int]float64{}
	if len(sub.Report) == 0 {
		return result
	}

	var report marker.Report
	if err := json.Unmarshal(sub.Report, &report); err != nil {
		return result
	}

	for _, task := range report.Tasks {
		if task.Score.Total > 0 {
			result[task.TaskNumber] = float64(task.Score.Earned) * 100 / float64(task.Score.Total)
		} else {
			result[task.TaskNumber] = 0
		}
	}
	return result
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

// percentile takes sorted input and interpolates linearly between ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := q * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
