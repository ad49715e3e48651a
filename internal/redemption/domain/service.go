package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	creditdomain "github.com/smallbiznis/edupass/internal/credit/domain"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/internal/token"
)

type RedeemRequest struct {
	Token          string
	GroupSessionID string
}

type Result struct {
	StudentID        snowflake.ID                  `json:"student_id"`
	CreditsRemaining int64                         `json:"credits_remaining"`
	TokenKind        token.SubjectKind             `json:"token_kind"`
	Attendance       creditdomain.AttendanceRecord `json:"attendance"`
	RecordedAt       time.Time                     `json:"recorded_at"`
}

// Service turns a presented token into exactly one attendance record and one
// credit deduction, or rejects it without touching the ledger.
type Service interface {
	Redeem(ctx context.Context, actor authorization.Actor, req RedeemRequest) (Result, error)
}

var (
	ErrInvalidSessionID = errkind.New(errkind.Invalid, "invalid group session id")
	ErrSessionMismatch  = errkind.New(errkind.Invalid, "token does not belong to this group session")
	ErrNoStudentActor   = errkind.New(errkind.Forbidden, "self check-in requires a student account")
	ErrSessionNotFound  = errkind.New(errkind.NotFound, "group session not found")
	ErrSessionInactive  = errkind.New(errkind.SessionInactive, "group session is not active")
	ErrStudentNotFound  = errkind.New(errkind.NotFound, "student not found")
	ErrStudentInactive  = errkind.New(errkind.Invalid, "student is inactive")
	ErrNotEnrolled      = errkind.New(errkind.NotEnrolled, "student is not enrolled in this group")
	ErrUnknownToken     = errkind.New(errkind.UnknownToken, "token was not issued by this system")
	ErrAlreadyUsed      = errkind.New(errkind.AlreadyUsed, "token has already been used")
)
