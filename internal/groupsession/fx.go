package groupsession

import (
	"github.com/smallbiznis/edupass/internal/groupsession/repository"
	"github.com/smallbiznis/edupass/internal/groupsession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("groupsession.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
