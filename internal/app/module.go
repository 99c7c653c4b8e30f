package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/pulsetel/simhub/internal/app/api/server"
	"github.com/pulsetel/simhub/internal/app/service/bundlematch"
	"github.com/pulsetel/simhub/internal/app/service/currency"
	"github.com/pulsetel/simhub/internal/app/service/querylog"
	"github.com/pulsetel/simhub/internal/app/service/reconcile"
	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/app/service/statistics"
	"github.com/pulsetel/simhub/internal/platform/cache"
	"github.com/pulsetel/simhub/internal/platform/db"
	"github.com/pulsetel/simhub/internal/platform/payment"
	"github.com/pulsetel/simhub/internal/platform/provider"
	"github.com/pulsetel/simhub/internal/platform/provider/airhub"
	"github.com/pulsetel/simhub/internal/platform/provider/esimcard"
	"github.com/pulsetel/simhub/internal/platform/provider/travelroam"
	"github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// newRegistry assembles the closed provider set in fixed enumeration order.
func newRegistry(a *airhub.Client, e *esimcard.Client, t *travelroam.Client) (*provider.Registry, error) {
	return provider.NewRegistry(a, e, t)
}

// newCatalog exposes the bundle provider's catalogue to the matcher.
func newCatalog(t *travelroam.Client) bundlematch.Catalog {
	return t
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	cache.Module,
	payment.Module,
	airhub.Module,
	esimcard.Module,
	travelroam.Module,
	fx.Provide(newRegistry),
	fx.Provide(newCatalog),
	bundlematch.Module,
	currency.Module,
	querylog.Module,
	reconcile.Module,
	renewal.Module,
	statistics.Module,
	server.Module,
)
