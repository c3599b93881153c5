package marker

import (
	"strconv"
	"time"
)

// ReportTask is the persisted shape of one marked task. Name holds the task
// id as a string for schema stability; consumers resolve display names via
// the allocator.
type ReportTask struct {
	Name        string             `json:"name"`
	TaskNumber  int                `json:"task_number"`
	Score       Score              `json:"score"`
	Subsections []SubsectionResult `json:"subsections"`
}

// Report is the persisted submission report, written next to the attempt on
// disk and mirrored into the submission row.
type Report struct {
	ID         uint         `json:"id"`
	Attempt    int          `json:"attempt"`
	Filename   string       `json:"filename"`
	Hash       string       `json:"hash"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Mark       Score        `json:"mark"`
	IsPractice bool         `json:"is_practice"`
	IsLate     bool         `json:"is_late"`
	Tasks      []ReportTask `json:"tasks"`
}

// BuildReport assembles the persisted report from marked task results. Task
// entries keep the order of the results, which follows ascending task number.
func BuildReport(submissionID uint, attempt int, filename, hash string, isPractice, isLate bool, results []TaskResult, now time.Time) Report {
	report := Report{
		ID:         submissionID,
		Attempt:    attempt,
		Filename:   filename,
		Hash:       hash,
		CreatedAt:  now,
		UpdatedAt:  now,
		IsPractice: isPractice,
		IsLate:     isLate,
	}

	for _, r := range results {
		report.Mark.Earned += r.Score.Earned
		report.Mark.Total += r.Score.Total
		report.Tasks = append(report.Tasks, ReportTask{
			Name:        strconv.FormatUint(uint64(r.TaskID), 10),
			TaskNumber:  r.TaskNumber,
			Score:       r.Score,
			Subsections: r.Subsections,
		})
	}

	return report
}
