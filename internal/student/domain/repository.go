package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListStudentFilter struct {
	Name   string
	Status Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, student *Student) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	// FindByIDForUpdate locks the student row until the transaction ends.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Student, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	List(ctx context.Context, db *gorm.DB, filter ListStudentFilter, page pagination.Pagination) ([]*Student, error)
}
