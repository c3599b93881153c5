package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus enumerates grading states for a submission.
const (
	SubmissionStatusPending = "pending"
	SubmissionStatusGraded  = "graded"
	SubmissionStatusFailed  = "failed"
)

// Submission represents one uploaded attempt for an assignment. The attempt
// counter increments on accepted non-practice submissions only.
type Submission struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AssignmentID uint           `gorm:"not null;index;uniqueIndex:idx_submissions_attempt,priority:1" json:"assignment_id"`
	UserID       uint           `gorm:"not null;index;uniqueIndex:idx_submissions_attempt,priority:2" json:"user_id"`
	Attempt      int            `gorm:"not null;uniqueIndex:idx_submissions_attempt,priority:3" json:"attempt"`
	Filename     string         `gorm:"size:255;not null" json:"filename"`
	FileHash     string         `gorm:"size:64;not null" json:"file_hash"`
	IsPractice   bool           `gorm:"not null;default:false" json:"is_practice"`
	Ignored      bool           `gorm:"not null;default:false" json:"ignored"`
	IsLate       bool           `gorm:"not null;default:false" json:"is_late"`
	Status       string         `gorm:"size:32;not null;default:pending" json:"status"`
	EarnedMarks  int            `gorm:"not null;default:0" json:"earned_marks"`
	TotalMarks   int            `gorm:"not null;default:0" json:"total_marks"`
	Report       datatypes.JSON `json:"report,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Assignment   Assignment     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsGraded reports whether the submission has a readable report.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// Percentage returns the earned mark as a percentage of the total.
func (s Submission) Percentage() float64 {
	if s.TotalMarks <= 0 {
		return 0
	}
	return float64(s.EarnedMarks) * 100 / float64(s.TotalMarks)
}

// CountsTowardAttempts reports whether this submission consumes attempt budget.
func (s Submission) CountsTowardAttempts() bool {
	return !s.IsPractice && !s.Ignored
}
