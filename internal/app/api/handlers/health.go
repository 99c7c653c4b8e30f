package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pulsetel/simhub/internal/platform/cache"
	"github.com/pulsetel/simhub/pkg/response"
)

type HealthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db"`
	Redis  string `json:"redis"`
}

// @Summary      Health check
// @Description  Returns service liveness plus db and redis connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  handlers.RespHealth
// @Router       /healthz [get]
func Healthz(db *gorm.DB, c *cache.Cache) gin.HandlerFunc {
	return func(gc *gin.Context) {
		ctx, cancel := context.WithTimeout(gc.Request.Context(), 2*time.Second)
		defer cancel()

		res := &HealthResponse{Status: "ok", DB: "ok", Redis: "ok"}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			res.DB = "down"
			res.Status = "degraded"
		}
		if err := c.Ping(ctx); err != nil {
			res.Redis = "down"
			res.Status = "degraded"
		}
		gc.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB, c *cache.Cache) {
	r.GET("/healthz", Healthz(db, c))
}
