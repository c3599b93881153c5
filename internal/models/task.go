package models

import "time"

// AssignmentTask is a single numbered task within an assignment. The command
// token is consumed by the assignment makefile (e.g. "task1").
type AssignmentTask struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssignmentID uint      `gorm:"not null;index:idx_task_assignment_number,unique" json:"assignment_id"`
	TaskNumber   int       `gorm:"not null;index:idx_task_assignment_number,unique" json:"task_number"`
	Name         string    `gorm:"size:255;not null" json:"name"`
	Command      string    `gorm:"size:255;not null" json:"command"`
	CodeCoverage bool      `gorm:"not null;default:false" json:"code_coverage"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
