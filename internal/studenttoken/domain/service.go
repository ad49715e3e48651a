package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/errkind"
)

type IssueRequest struct {
	StudentID string
	SessionID string
}

type IssueResponse struct {
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	StudentName      string    `json:"student_name"`
	CreditsRemaining int64     `json:"credits_remaining"`
}

type Service interface {
	Issue(ctx context.Context, actor authorization.Actor, req IssueRequest) (IssueResponse, error)
}

var (
	ErrInvalidStudentID   = errkind.New(errkind.Invalid, "invalid student id")
	ErrInvalidSessionID   = errkind.New(errkind.Invalid, "invalid session id")
	ErrStudentNotFound    = errkind.New(errkind.NotFound, "student not found")
	ErrStudentInactive    = errkind.New(errkind.Invalid, "student is inactive")
	ErrSessionNotFound    = errkind.New(errkind.NotFound, "group session not found")
	ErrInsufficientCredit = errkind.New(errkind.InsufficientCredit, "no session credits remaining")
)
