package models

import "time"

// AssignmentStatus enumerates lifecycle states for an assignment.
const (
	AssignmentStatusSetup    = "setup"
	AssignmentStatusReady    = "ready"
	AssignmentStatusOpen     = "open"
	AssignmentStatusClosed   = "closed"
	AssignmentStatusArchived = "archived"
)

// AssignmentType enumerates the kinds of assignments a module can carry.
const (
	AssignmentTypeAssignment = "assignment"
	AssignmentTypePractical  = "practical"
)

// Assignment represents a gradable assignment within a module.
type Assignment struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	ModuleID       uint             `gorm:"not null;index" json:"module_id"`
	Name           string           `gorm:"size:255;not null" json:"name"`
	AssignmentType string           `gorm:"size:32;not null;default:assignment" json:"assignment_type"`
	Status         string           `gorm:"size:32;not null;default:setup" json:"status"`
	AvailableFrom  time.Time        `gorm:"not null" json:"available_from"`
	DueDate        time.Time        `gorm:"not null" json:"due_date"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Tasks          []AssignmentTask `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"tasks,omitempty"`
}

// IsPastDue reports whether the due date has passed at the reference time.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueDate)
}

// IsAvailable reports whether the assignment window has opened at the reference time.
func (a Assignment) IsAvailable(reference time.Time) bool {
	return !reference.Before(a.AvailableFrom)
}

// AcceptsSubmissions reports whether uploads may be admitted in the current state.
func (a Assignment) AcceptsSubmissions() bool {
	return a.Status == AssignmentStatusOpen
}
