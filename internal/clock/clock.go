package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock supplies the wall-clock time used for token expiry and ledger
// timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystem() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
