package dbtest

import (
	"testing"
	"time"

	"gorm.io/gorm"
)

var FixtureTime = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

// Student inserts an active student whose credit_balance and
// total_purchased both equal balance.
func Student(t testing.TB, db *gorm.DB, id int64, name string, balance int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO students (id, name, phone, status, credit_balance, total_purchased, created_at, updated_at)
		 VALUES (?, ?, '', 'active', ?, ?, ?, ?)`,
		id, name, balance, balance, FixtureTime, FixtureTime,
	).Error; err != nil {
		t.Fatalf("insert student: %v", err)
	}
}

func Group(t testing.TB, db *gorm.DB, id int64, name string, capacity int) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO study_groups (id, name, slug, subject, max_students, status, created_at, updated_at)
		 VALUES (?, ?, ?, '', ?, 'active', ?, ?)`,
		id, name, name, capacity, FixtureTime, FixtureTime,
	).Error; err != nil {
		t.Fatalf("insert group: %v", err)
	}
}

func Enroll(t testing.TB, db *gorm.DB, id, groupID, studentID int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO group_students (id, group_id, student_id, status, enrolled_at)
		 VALUES (?, ?, ?, 'active', ?)`,
		id, groupID, studentID, FixtureTime,
	).Error; err != nil {
		t.Fatalf("insert enrollment: %v", err)
	}
}

func Count(t testing.TB, db *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := "SELECT COUNT(1) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
