package models

import "time"

// Role names used for module-level access decisions.
const (
	RoleStudent           = "student"
	RoleTutor             = "tutor"
	RoleAssistantLecturer = "assistant_lecturer"
	RoleLecturer          = "lecturer"
	RoleAdmin             = "admin"
)

// User is the minimal identity the grading core needs. Authentication and the
// full user CRUD surface live outside this service.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Role      string    `gorm:"size:32;not null;default:student" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsStaff reports whether the role bypasses attempt limits and access guards.
func IsStaff(role string) bool {
	switch role {
	case RoleLecturer, RoleAssistantLecturer, RoleTutor, RoleAdmin:
		return true
	}
	return false
}
