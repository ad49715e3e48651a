package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *GroupSession) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GroupSession, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GroupSession, error)
	// FindBySlotForUpdate locks the session scheduled for the group at the
	// given date and start time, if any.
	FindBySlotForUpdate(ctx context.Context, db *gorm.DB, groupID snowflake.ID, date, start string) (*GroupSession, error)
	OpenWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
}
