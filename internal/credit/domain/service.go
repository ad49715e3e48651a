package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/errkind"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"gorm.io/gorm"
)

type PaymentRequest struct {
	StudentID    string
	Amount       int64
	CreditsAdded int64
	Method       string
	Reference    string
	Notes        string
	Metadata     map[string]any
}

type ListPaymentRequest struct {
	StudentID string
	PageToken string
	PageSize  int
}

type ListPaymentResponse struct {
	PageInfo pagination.PageInfo `json:"page_info"`
	Payments []Payment           `json:"payments"`
}

type Service interface {
	ApplyPayment(ctx context.Context, actor authorization.Actor, req PaymentRequest) (PaymentResult, error)
	// ApplyAttendanceDeduction is the only way credits leave a balance. It
	// runs inside tx, which must already hold the student row lock.
	ApplyAttendanceDeduction(ctx context.Context, tx *gorm.DB, d Deduction) (DeductionResult, error)
	FindAttendance(ctx context.Context, tx *gorm.DB, studentID, groupSessionID snowflake.ID) (*AttendanceRecord, error)

	Reconcile(ctx context.Context, actor authorization.Actor, studentID string) (Reconciliation, error)
	ListPayments(ctx context.Context, actor authorization.Actor, req ListPaymentRequest) (ListPaymentResponse, error)
	ListAttendance(ctx context.Context, actor authorization.Actor, studentID string) ([]AttendanceRecord, error)
	Entries(ctx context.Context, actor authorization.Actor, studentID string) ([]LedgerEntry, error)
}

var (
	ErrInvalidStudentID   = errkind.New(errkind.Invalid, "invalid student id")
	ErrInvalidAmount      = errkind.New(errkind.Invalid, "amount must be positive")
	ErrInvalidCredits     = errkind.New(errkind.Invalid, "credits_added must be positive")
	ErrInvalidMethod      = errkind.New(errkind.Invalid, "payment method is too long")
	ErrStudentNotFound    = errkind.New(errkind.NotFound, "student not found")
	ErrStudentInactive    = errkind.New(errkind.Invalid, "student is inactive")
	ErrInsufficientCredit = errkind.New(errkind.InsufficientCredit, "no session credits remaining")
	ErrAlreadyAttended    = errkind.New(errkind.AlreadyAttended, "attendance already recorded for this session")
)
