package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListPaymentFilter struct {
	StudentID snowflake.ID
}

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, db *gorm.DB, filter ListPaymentFilter, page pagination.Pagination) ([]*Payment, error)
	ListPaymentsByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]*Payment, error)

	// CreditStudent adds credits to both the balance and the purchase total.
	CreditStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID, credits int64, now time.Time) (int64, error)
	// DebitStudent takes one credit only while the balance is positive and
	// reports the affected row count.
	DebitStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID, now time.Time) (int64, error)
	Balance(ctx context.Context, db *gorm.DB, studentID snowflake.ID) (balance int64, purchased int64, err error)

	InsertAttendance(ctx context.Context, db *gorm.DB, record *AttendanceRecord) error
	FindAttendance(ctx context.Context, db *gorm.DB, studentID, groupSessionID snowflake.ID) (*AttendanceRecord, error)
	ListAttendanceByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]*AttendanceRecord, error)

	Totals(ctx context.Context, db *gorm.DB, studentID snowflake.ID) (Totals, error)
}
