package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/groupsession/domain"
	"gorm.io/gorm"
)

const selectColumns = `SELECT id, group_id, session_date, start_time, status, notes, window_expires_at, created_by, created_at, updated_at
		 FROM group_sessions`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.GroupSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO group_sessions (id, group_id, session_date, start_time, status, notes, window_expires_at, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.GroupID,
		session.SessionDate,
		session.StartTime,
		session.Status,
		session.Notes,
		session.WindowExpiresAt,
		session.CreatedBy,
		session.CreatedAt,
		session.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GroupSession, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GroupSession, error) {
	return r.findOne(ctx, db, selectColumns+` WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindBySlotForUpdate(ctx context.Context, db *gorm.DB, groupID snowflake.ID, date, start string) (*domain.GroupSession, error) {
	return r.findOne(ctx, db,
		selectColumns+` WHERE group_id = ? AND session_date = ? AND start_time = ? FOR UPDATE`,
		groupID, date, start,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.GroupSession, error) {
	var session domain.GroupSession
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&session).Error; err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) OpenWindow(ctx context.Context, db *gorm.DB, id snowflake.ID, expiresAt, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE group_sessions SET status = ?, window_expires_at = ?, updated_at = ? WHERE id = ?`,
		domain.StatusActive,
		expiresAt,
		now,
		id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE group_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}
