package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsetel/simhub/docs"
	"github.com/pulsetel/simhub/internal/app/api/handlers"
	"github.com/pulsetel/simhub/internal/app/service/reconcile"
	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/app/service/statistics"
	"github.com/pulsetel/simhub/internal/platform/cache"
	"github.com/pulsetel/simhub/internal/platform/payment"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"

	mw "github.com/pulsetel/simhub/internal/app/api/middleware"

	metrics "github.com/pulsetel/simhub/pkg/metrics"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	lookups reconcile.Service,
	renewals renewal.Manager,
	stats *statistics.Service,
	gw payment.Gateway,
	db *gorm.DB,
	c *cache.Cache,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, db, c)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Gateway webhooks. Signature verification consumes the raw body, so
	// only trace + logging middleware run in front of it.
	webhooks := r.Group("/webhooks")
	webhooks.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterWebhookRoutes(webhooks, gw, renewals, log)

	// Public v1 API: lookups, catalog, renewals
	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterESIMRoutes(apiV1, lookups)
	handlers.RegisterRenewalRoutes(apiV1, renewals)

	// Admin surface: JWT-guarded ops endpoints
	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminAuthMiddleware(cfg.Admin.JWTSecret))
	handlers.RegisterAdminRoutes(admin, renewals, stats, lookups)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
