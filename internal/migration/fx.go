package migration

import (
	"strings"

	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			return nil
		}

		dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
		switch dbType {
		case db.TypePostgres:
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		case db.TypeSQLite:
			if err := ApplySQLite(conn); err != nil {
				return err
			}
		default:
			log.Warn("auto migrate not supported for database type", zap.String("type", dbType))
			return nil
		}

		log.Info("database schema up to date", zap.String("type", dbType))
		return nil
	}),
)
