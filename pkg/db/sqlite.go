package db

import (
	"strings"

	"gorm.io/gorm"
)

// PrepareSQLite adapts a sqlite connection to the locking queries the
// repositories issue. SQLite has no row locks, so FOR UPDATE and SKIP LOCKED
// are stripped and the pool is pinned to one connection; transactions then
// serialize the way row locks would.
func PrepareSQLite(conn *gorm.DB) error {
	if err := conn.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", stripLockingClauses); err != nil {
		return err
	}
	if err := conn.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", stripLockingClauses); err != nil {
		return err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}

func stripLockingClauses(d *gorm.DB) {
	sql := d.Statement.SQL.String()
	if !strings.Contains(sql, "FOR UPDATE") {
		return
	}
	sql = strings.ReplaceAll(sql, "SKIP LOCKED", "")
	sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
	d.Statement.SQL.Reset()
	d.Statement.SQL.WriteString(sql)
}

func isSQLite(cfg Config) bool {
	return strings.EqualFold(strings.TrimSpace(cfg.Type), TypeSQLite)
}
