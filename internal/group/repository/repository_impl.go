package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/group/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, group *domain.Group) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO study_groups (id, name, slug, subject, max_students, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID,
		group.Name,
		group.Slug,
		group.Subject,
		group.MaxStudents,
		group.Status,
		group.CreatedAt,
		group.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	return r.find(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Group, error) {
	return r.find(ctx, db, id, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, lock bool) (*domain.Group, error) {
	query := `SELECT id, name, slug, subject, max_students, status, created_at, updated_at
		 FROM study_groups WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	var group domain.Group
	if err := db.WithContext(ctx).Raw(query, id).Scan(&group).Error; err != nil {
		return nil, err
	}
	if group.ID == 0 {
		return nil, nil
	}
	return &group, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM study_groups WHERE slug = ?`,
		slug,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertEnrollment(ctx context.Context, db *gorm.DB, enrollment *domain.Enrollment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO group_students (id, group_id, student_id, status, enrolled_at)
		 VALUES (?, ?, ?, ?, ?)`,
		enrollment.ID,
		enrollment.GroupID,
		enrollment.StudentID,
		enrollment.Status,
		enrollment.EnrolledAt,
	).Error
}

func (r *repo) FindEnrollment(ctx context.Context, db *gorm.DB, groupID, studentID snowflake.ID) (*domain.Enrollment, error) {
	var enrollment domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, group_id, student_id, status, enrolled_at
		 FROM group_students WHERE group_id = ? AND student_id = ?`,
		groupID,
		studentID,
	).Scan(&enrollment).Error
	if err != nil {
		return nil, err
	}
	if enrollment.ID == 0 {
		return nil, nil
	}
	return &enrollment, nil
}

func (r *repo) CountActiveEnrollments(ctx context.Context, db *gorm.DB, groupID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM group_students WHERE group_id = ? AND status = ?`,
		groupID,
		domain.EnrollmentActive,
	).Scan(&count).Error
	return count, err
}

func (r *repo) IsEnrolled(ctx context.Context, db *gorm.DB, groupID, studentID snowflake.ID) (bool, error) {
	enrollment, err := r.FindEnrollment(ctx, db, groupID, studentID)
	if err != nil {
		return false, err
	}
	return enrollment != nil && enrollment.Status == domain.EnrollmentActive, nil
}
