package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, group *Group) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Group, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Group, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)

	InsertEnrollment(ctx context.Context, db *gorm.DB, enrollment *Enrollment) error
	FindEnrollment(ctx context.Context, db *gorm.DB, groupID, studentID snowflake.ID) (*Enrollment, error)
	CountActiveEnrollments(ctx context.Context, db *gorm.DB, groupID snowflake.ID) (int64, error)
	IsEnrolled(ctx context.Context, db *gorm.DB, groupID, studentID snowflake.ID) (bool, error)
}
