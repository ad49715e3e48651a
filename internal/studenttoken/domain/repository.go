package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *StudentToken) error
	// FindByHashForUpdate locks the stored token so a concurrent redemption
	// of the same token waits for this one to finish.
	FindByHashForUpdate(ctx context.Context, db *gorm.DB, hash string) (*StudentToken, error)
	// MarkUsed flips an unused token to used and reports whether it did.
	MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedAt time.Time) (bool, error)
}
