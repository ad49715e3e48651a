package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.StudentToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO student_tokens (id, token_hash, student_id, session_id, expires_at, used, used_at, issued_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.TokenHash,
		token.StudentID,
		token.SessionID,
		token.ExpiresAt,
		token.Used,
		token.UsedAt,
		token.IssuedBy,
		token.CreatedAt,
	).Error
}

func (r *repo) FindByHashForUpdate(ctx context.Context, db *gorm.DB, hash string) (*domain.StudentToken, error) {
	var token domain.StudentToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, token_hash, student_id, session_id, expires_at, used, used_at, issued_by, created_at
		 FROM student_tokens WHERE token_hash = ? FOR UPDATE`,
		hash,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == 0 {
		return nil, nil
	}
	return &token, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE student_tokens SET used = ?, used_at = ? WHERE id = ? AND used = ?`,
		true,
		usedAt,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
