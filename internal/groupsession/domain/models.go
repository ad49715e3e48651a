package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// GroupSession is one meeting of a study group, identified by its group,
// date and start time. WindowExpiresAt bounds the check-in window opened by
// the last start.
type GroupSession struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	GroupID         snowflake.ID `gorm:"not null" json:"group_id"`
	SessionDate     string       `gorm:"type:text;not null" json:"session_date"`
	StartTime       string       `gorm:"type:text;not null" json:"start_time"`
	Status          Status       `gorm:"type:text;not null" json:"status"`
	Notes           string       `gorm:"type:text" json:"notes,omitempty"`
	WindowExpiresAt *time.Time   `json:"window_expires_at,omitempty"`
	CreatedBy       string       `gorm:"type:text" json:"created_by"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (GroupSession) TableName() string { return "group_sessions" }

func (s GroupSession) Closed() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// WindowOpen reports whether check-ins are currently accepted.
func (s GroupSession) WindowOpen(now time.Time) bool {
	return s.Status == StatusActive && s.WindowExpiresAt != nil && now.Before(*s.WindowExpiresAt)
}
