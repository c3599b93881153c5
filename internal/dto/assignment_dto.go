package dto

import (
	"time"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
)

// AssignmentCreateRequest describes the JSON payload for creating an assignment.
type AssignmentCreateRequest struct {
	ModuleID       uint      `json:"module_id" validate:"required,gt=0"`
	Name           string    `json:"name" validate:"required,min=3,max=255"`
	AssignmentType string    `json:"assignment_type" validate:"omitempty,oneof=assignment practical"`
	AvailableFrom  time.Time `json:"available_from" validate:"required"`
	DueDate        time.Time `json:"due_date" validate:"required,gtfield=AvailableFrom"`
}

// AssignmentUpdateRequest carries optional field updates.
type AssignmentUpdateRequest struct {
	Name          *string    `json:"name" validate:"omitempty,min=3,max=255"`
	AvailableFrom *time.Time `json:"available_from"`
	DueDate       *time.Time `json:"due_date"`
}

// TaskRequest describes the payload for creating or updating a task.
type TaskRequest struct {
	TaskNumber   int    `json:"task_number" validate:"required,gt=0"`
	Name         string `json:"name" validate:"required,max=255"`
	Command      string `json:"command" validate:"required,max=255"`
	CodeCoverage bool   `json:"code_coverage"`
}

// AssignmentResponse is the API view of an assignment.
type AssignmentResponse struct {
	ID             uint           `json:"id"`
	ModuleID       uint           `json:"module_id"`
	Name           string         `json:"name"`
	AssignmentType string         `json:"assignment_type"`
	Status         string         `json:"status"`
	AvailableFrom  time.Time      `json:"available_from"`
	DueDate        time.Time      `json:"due_date"`
	Tasks          []TaskResponse `json:"tasks,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TaskResponse is the API view of one task.
type TaskResponse struct {
	ID           uint   `json:"id"`
	TaskNumber   int    `json:"task_number"`
	Name         string `json:"name"`
	Command      string `json:"command"`
	CodeCoverage bool   `json:"code_coverage"`
}

// NewAssignmentResponse maps a model to its API view.
func NewAssignmentResponse(a models.Assignment) AssignmentResponse {
	resp := AssignmentResponse{
		ID:             a.ID,
		ModuleID:       a.ModuleID,
		Name:           a.Name,
		AssignmentType: a.AssignmentType,
		Status:         a.Status,
		AvailableFrom:  a.AvailableFrom,
		DueDate:        a.DueDate,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	for _, task := range a.Tasks {
		resp.Tasks = append(resp.Tasks, NewTaskResponse(task))
	}
	return resp
}

// NewTaskResponse maps a task model to its API view.
func NewTaskResponse(t models.AssignmentTask) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		TaskNumber:   t.TaskNumber,
		Name:         t.Name,
		Command:      t.Command,
		CodeCoverage: t.CodeCoverage,
	}
}
