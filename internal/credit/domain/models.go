package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment is an immutable purchase of session credits.
type Payment struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	StudentID    snowflake.ID      `gorm:"not null;index" json:"student_id"`
	Amount       int64             `gorm:"not null" json:"amount"`
	CreditsAdded int64             `gorm:"not null" json:"credits_added"`
	Method       string            `gorm:"type:text;not null" json:"method"`
	Reference    string            `gorm:"type:text" json:"reference,omitempty"`
	Notes        string            `gorm:"type:text" json:"notes,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	RecordedBy   string            `gorm:"type:text" json:"recorded_by"`
	RecordedAt   time.Time         `gorm:"not null" json:"recorded_at"`
}

func (Payment) TableName() string { return "payments" }

// AttendanceRecord is an immutable check-in. CreditDelta is -1 for every
// check-in that consumed a credit.
type AttendanceRecord struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	StudentID      snowflake.ID  `gorm:"not null" json:"student_id"`
	GroupSessionID snowflake.ID  `gorm:"not null" json:"group_session_id"`
	CreditDelta    int64         `gorm:"not null" json:"credit_delta"`
	TokenID        *snowflake.ID `json:"token_id,omitempty"`
	RecordedBy     string        `gorm:"type:text" json:"recorded_by"`
	RecordedAt     time.Time     `gorm:"not null" json:"recorded_at"`
}

func (AttendanceRecord) TableName() string { return "attendance_records" }

// Deduction describes one attendance debit applied inside the caller's
// transaction.
type Deduction struct {
	ID             snowflake.ID
	StudentID      snowflake.ID
	GroupSessionID snowflake.ID
	TokenID        *snowflake.ID
	RecordedBy     string
	RecordedAt     time.Time
}

type DeductionResult struct {
	Record           AttendanceRecord
	CreditsRemaining int64
}

type PaymentResult struct {
	Payment        Payment `json:"payment"`
	CreditBalance  int64   `json:"credit_balance"`
	TotalPurchased int64   `json:"total_purchased"`
}

// Totals are the ledger sums recomputed from the immutable tables.
type Totals struct {
	PaymentCredits  int64
	AttendanceDelta int64
	Deductions      int64
}

type Reconciliation struct {
	StudentID       snowflake.ID `json:"student_id"`
	CreditBalance   int64        `json:"credit_balance"`
	TotalPurchased  int64        `json:"total_purchased"`
	PaymentCredits  int64        `json:"payment_credits"`
	AttendanceDelta int64        `json:"attendance_delta"`
	Deductions      int64        `json:"deductions"`
	Consistent      bool         `json:"consistent"`
}

type EntryKind string

const (
	EntryPayment    EntryKind = "payment"
	EntryAttendance EntryKind = "attendance"
)

// LedgerEntry is one line of a student's merged credit history.
type LedgerEntry struct {
	Kind         EntryKind    `json:"kind"`
	ID           snowflake.ID `json:"id"`
	Delta        int64        `json:"delta"`
	BalanceAfter int64        `json:"balance_after"`
	OccurredAt   time.Time    `json:"occurred_at"`
	Reference    string       `json:"reference,omitempty"`
}
