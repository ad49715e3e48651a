package studenttoken

import (
	"github.com/smallbiznis/edupass/internal/studenttoken/repository"
	"github.com/smallbiznis/edupass/internal/studenttoken/service"
	"go.uber.org/fx"
)

var Module = fx.Module("studenttoken.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
