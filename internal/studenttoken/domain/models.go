package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

// StudentToken is the stored form of a single-use student token. Only the
// hash of the signed string is kept.
type StudentToken struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	TokenHash string        `gorm:"type:text;not null;uniqueIndex" json:"-"`
	StudentID snowflake.ID  `gorm:"not null" json:"student_id"`
	SessionID *snowflake.ID `json:"session_id,omitempty"`
	ExpiresAt time.Time     `gorm:"not null" json:"expires_at"`
	Used      bool          `gorm:"not null" json:"used"`
	UsedAt    *time.Time    `json:"used_at,omitempty"`
	IssuedBy  string        `gorm:"type:text" json:"issued_by"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}

func (StudentToken) TableName() string { return "student_tokens" }

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
