package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/authorization"
	"github.com/smallbiznis/edupass/internal/clock"
	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/credit"
	"github.com/smallbiznis/edupass/internal/events"
	"github.com/smallbiznis/edupass/internal/group"
	"github.com/smallbiznis/edupass/internal/groupsession"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	"github.com/smallbiznis/edupass/internal/migration"
	"github.com/smallbiznis/edupass/internal/observability"
	"github.com/smallbiznis/edupass/internal/ratelimit"
	"github.com/smallbiznis/edupass/internal/redemption"
	"github.com/smallbiznis/edupass/internal/scheduler"
	"github.com/smallbiznis/edupass/internal/server"
	"github.com/smallbiznis/edupass/internal/student"
	"github.com/smallbiznis/edupass/internal/studenttoken"
	"github.com/smallbiznis/edupass/internal/token"
	"github.com/smallbiznis/edupass/pkg/db"
	"github.com/smallbiznis/edupass/pkg/redisclient"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		redisclient.Module,
		clock.Module,
		events.Module,
		ratelimit.Module,
		fx.Provide(provideSlotLocker),

		// Attendance domains
		authorization.Module,
		token.Module,
		student.Module,
		group.Module,
		groupsession.Module,
		studenttoken.Module,
		credit.Module,
		redemption.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// provideSlotLocker hands the Redis locker to session starts only when Redis
// is configured.
func provideSlotLocker(l *ratelimit.Locker) sessiondomain.SlotLocker {
	if l == nil {
		return nil
	}
	return l
}
