package domain

import (
	"context"

	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
)

type CreateStudentRequest struct {
	Name  string
	Phone string
}

type ListStudentRequest struct {
	Name      string
	Status    string
	PageToken string
	PageSize  int
}

type ListStudentResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Students []Student           `json:"students"`
}

type Service interface {
	Create(ctx context.Context, actor authorization.Actor, req CreateStudentRequest) (Student, error)
	Get(ctx context.Context, actor authorization.Actor, id string) (Student, error)
	List(ctx context.Context, actor authorization.Actor, req ListStudentRequest) (ListStudentResponse, error)
	Deactivate(ctx context.Context, actor authorization.Actor, id string) (Student, error)
}

var (
	ErrNotFound      = errkind.New(errkind.NotFound, "student not found")
	ErrInvalidID     = errkind.New(errkind.Invalid, "invalid student id")
	ErrInvalidName   = errkind.New(errkind.Invalid, "student name is required")
	ErrInvalidStatus = errkind.New(errkind.Invalid, "invalid student status")
	ErrInactive      = errkind.New(errkind.Invalid, "student is inactive")
)
