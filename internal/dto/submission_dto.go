package dto

import (
	"encoding/json"
	"time"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
)

// SubmissionResponse is the API view of one attempt.
type SubmissionResponse struct {
	ID           uint            `json:"id"`
	AssignmentID uint            `json:"assignment_id"`
	UserID       uint            `json:"user_id"`
	Attempt      int             `json:"attempt"`
	Filename     string          `json:"filename"`
	FileHash     string          `json:"file_hash"`
	IsPractice   bool            `json:"is_practice"`
	Ignored      bool            `json:"ignored"`
	IsLate       bool            `json:"is_late"`
	Status       string          `json:"status"`
	EarnedMarks  int             `json:"earned_marks"`
	TotalMarks   int             `json:"total_marks"`
	Percentage   float64         `json:"percentage"`
	Report       json.RawMessage `json:"report,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewSubmissionResponse maps a model to its API view. The full report is only
// included when withReport is set; list endpoints omit it.
func NewSubmissionResponse(s models.Submission, withReport bool) SubmissionResponse {
	resp := SubmissionResponse{
		ID:           s.ID,
		AssignmentID: s.AssignmentID,
		UserID:       s.UserID,
		Attempt:      s.Attempt,
		Filename:     s.Filename,
		FileHash:     s.FileHash,
		IsPractice:   s.IsPractice,
		Ignored:      s.Ignored,
		IsLate:       s.IsLate,
		Status:       s.Status,
		EarnedMarks:  s.EarnedMarks,
		TotalMarks:   s.TotalMarks,
		Percentage:   s.Percentage(),
		CreatedAt:    s.CreatedAt,
	}
	if withReport && len(s.Report) > 0 {
		resp.Report = json.RawMessage(s.Report)
	}
	return resp
}

// AccessVerifyRequest carries the PIN a student presents for a
// password-protected assignment.
type AccessVerifyRequest struct {
	Pin string `json:"pin" validate:"required,min=4,max=64"`
}

// IgnoreRequest toggles whether a submission counts toward attempts and stats.
type IgnoreRequest struct {
	Ignored bool `json:"ignored"`
}
