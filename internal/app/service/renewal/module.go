package renewal

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewLogNotifier),
	fx.Provide(NewService),
	fx.Invoke(SeedPackages),
)
