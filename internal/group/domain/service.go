package domain

import (
	"context"

	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/errkind"
)

type CreateGroupRequest struct {
	Name        string
	Subject     string
	MaxStudents int
}

type EnrollRequest struct {
	GroupID    string
	StudentIDs []string
}

type EnrollResponse struct {
	GroupID  string       `json:"group_id"`
	Enrolled []Enrollment `json:"enrolled"`
	Skipped  []string     `json:"skipped"` // already enrolled
	Capacity int          `json:"capacity"`
	Count    int64        `json:"count"`
}

type Service interface {
	Create(ctx context.Context, actor authorization.Actor, req CreateGroupRequest) (Group, error)
	Get(ctx context.Context, id string) (Group, error)
	Enroll(ctx context.Context, actor authorization.Actor, req EnrollRequest) (EnrollResponse, error)
}

var (
	ErrNotFound         = errkind.New(errkind.NotFound, "group not found")
	ErrInvalidID        = errkind.New(errkind.Invalid, "invalid group id")
	ErrInvalidName      = errkind.New(errkind.Invalid, "group name is required")
	ErrInvalidCapacity  = errkind.New(errkind.Invalid, "max_students must be positive")
	ErrInvalidStudents  = errkind.New(errkind.Invalid, "student_ids are required")
	ErrInactive         = errkind.New(errkind.Invalid, "group is inactive")
	ErrCapacityExceeded = errkind.New(errkind.Invalid, "group capacity exceeded")
	ErrStudentNotFound  = errkind.New(errkind.NotFound, "student not found")
	ErrStudentInactive  = errkind.New(errkind.Invalid, "student is inactive")
)
