package bundlematch

import "go.uber.org/fx"

// Module exposes the bundle matcher via Fx.
var Module = fx.Options(fx.Provide(NewMatcher))
