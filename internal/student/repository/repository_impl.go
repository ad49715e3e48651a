package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, student *domain.Student) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO students (id, name, phone, status, credit_balance, total_purchased, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		student.ID,
		student.Name,
		student.Phone,
		student.Status,
		student.CreditBalance,
		student.TotalPurchased,
		student.CreatedAt,
		student.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	return r.find(ctx, db, id, false)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Student, error) {
	return r.find(ctx, db, id, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, lock bool) (*domain.Student, error) {
	query := `SELECT id, name, phone, status, credit_balance, total_purchased, created_at, updated_at
		 FROM students WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}

	var student domain.Student
	if err := db.WithContext(ctx).Raw(query, id).Scan(&student).Error; err != nil {
		return nil, err
	}
	if student.ID == 0 {
		return nil, nil
	}
	return &student, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE students SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListStudentFilter, page pagination.Pagination) ([]*domain.Student, error) {
	var students []*domain.Student
	stmt := db.WithContext(ctx).Model(&domain.Student{})
	if filter.Name != "" {
		stmt = stmt.Where("name LIKE ?", "%"+filter.Name+"%")
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if page.PageToken != "" {
		cursorID, err := pagination.DecodeCursorID(page.PageToken)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("id < ?", cursorID)
	}

	err := stmt.
		Order("id desc").
		Limit(page.PageSize + 1).
		Find(&students).Error
	if err != nil {
		return nil, err
	}
	return students, nil
}
