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

type Group struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Subject     string       `gorm:"type:text" json:"subject,omitempty"`
	MaxStudents int          `gorm:"not null" json:"max_students"`
	Status      Status       `gorm:"type:text;not null" json:"status"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Group) TableName() string { return "study_groups" }

type EnrollmentStatus string

const (
	EnrollmentActive  EnrollmentStatus = "active"
	EnrollmentDropped EnrollmentStatus = "dropped"
)

type Enrollment struct {
	ID         snowflake.ID     `gorm:"primaryKey" json:"id"`
	GroupID    snowflake.ID     `gorm:"not null" json:"group_id"`
	StudentID  snowflake.ID     `gorm:"not null" json:"student_id"`
	Status     EnrollmentStatus `gorm:"type:text;not null" json:"status"`
	EnrolledAt time.Time        `gorm:"not null" json:"enrolled_at"`
}

func (Enrollment) TableName() string { return "group_students" }
