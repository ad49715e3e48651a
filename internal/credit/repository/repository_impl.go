package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/credit/domain"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (id, student_id, amount, credits_added, method, reference, notes, metadata, recorded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.StudentID,
		payment.Amount,
		payment.CreditsAdded,
		payment.Method,
		payment.Reference,
		payment.Notes,
		payment.Metadata,
		payment.RecordedBy,
		payment.RecordedAt,
	).Error
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, filter domain.ListPaymentFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.StudentID != 0 {
		stmt = stmt.Where("student_id = ?", filter.StudentID)
	}
	if page.PageToken != "" {
		cursorID, err := pagination.DecodeCursorID(page.PageToken)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("id < ?", cursorID)
	}

	err := stmt.
		Order("id desc").
		Limit(page.PageSize + 1).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) ListPaymentsByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, student_id, amount, credits_added, method, reference, notes, metadata, recorded_by, recorded_at
		 FROM payments WHERE student_id = ? ORDER BY recorded_at ASC, id ASC`,
		studentID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) CreditStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID, credits int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE students
		 SET credit_balance = credit_balance + ?, total_purchased = total_purchased + ?, updated_at = ?
		 WHERE id = ?`,
		credits,
		credits,
		now,
		studentID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DebitStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE students
		 SET credit_balance = credit_balance - 1, updated_at = ?
		 WHERE id = ? AND credit_balance > 0`,
		now,
		studentID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Balance(ctx context.Context, db *gorm.DB, studentID snowflake.ID) (int64, int64, error) {
	var row struct {
		CreditBalance  int64
		TotalPurchased int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT credit_balance, total_purchased FROM students WHERE id = ?`,
		studentID,
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.CreditBalance, row.TotalPurchased, nil
}

func (r *repo) InsertAttendance(ctx context.Context, db *gorm.DB, record *domain.AttendanceRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO attendance_records (id, student_id, group_session_id, credit_delta, token_id, recorded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.StudentID,
		record.GroupSessionID,
		record.CreditDelta,
		record.TokenID,
		record.RecordedBy,
		record.RecordedAt,
	).Error
}

func (r *repo) FindAttendance(ctx context.Context, db *gorm.DB, studentID, groupSessionID snowflake.ID) (*domain.AttendanceRecord, error) {
	var record domain.AttendanceRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, student_id, group_session_id, credit_delta, token_id, recorded_by, recorded_at
		 FROM attendance_records WHERE student_id = ? AND group_session_id = ?`,
		studentID,
		groupSessionID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) ListAttendanceByStudent(ctx context.Context, db *gorm.DB, studentID snowflake.ID) ([]*domain.AttendanceRecord, error) {
	var records []*domain.AttendanceRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, student_id, group_session_id, credit_delta, token_id, recorded_by, recorded_at
		 FROM attendance_records WHERE student_id = ? ORDER BY recorded_at ASC, id ASC`,
		studentID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) Totals(ctx context.Context, db *gorm.DB, studentID snowflake.ID) (domain.Totals, error) {
	var totals domain.Totals
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COALESCE(SUM(credits_added), 0) FROM payments WHERE student_id = ?) AS payment_credits,
		   (SELECT COALESCE(SUM(credit_delta), 0) FROM attendance_records WHERE student_id = ?) AS attendance_delta,
		   (SELECT COUNT(*) FROM attendance_records WHERE student_id = ? AND credit_delta < 0) AS deductions`,
		studentID,
		studentID,
		studentID,
	).Scan(&totals).Error
	return totals, err
}
