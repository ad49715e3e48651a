package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Student is a learner holding a prepaid session balance. The balance
// columns are written only by the credit ledger.
type Student struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	Phone          string       `gorm:"type:text" json:"phone,omitempty"`
	Status         Status       `gorm:"type:text;not null" json:"status"`
	CreditBalance  int64        `gorm:"not null" json:"credit_balance"`
	TotalPurchased int64        `gorm:"not null" json:"total_purchased"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Student) TableName() string { return "students" }

func (s Student) Active() bool {
	return s.Status == StatusActive
}
