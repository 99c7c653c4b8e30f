package reconcile

import "go.uber.org/fx"

// Module exposes the reconciliation pipeline via Fx.
var Module = fx.Options(
	fx.Provide(NewMerger),
	fx.Provide(NewCoordinator),
	fx.Provide(NewService),
)
