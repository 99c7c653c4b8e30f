package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsetel/simhub/internal/app/service/reconcile"
	"github.com/pulsetel/simhub/pkg/response"
	"github.com/pulsetel/simhub/pkg/types"
)

// ESIMResponse is the served reconciliation view. Sources carries the
// per-provider breakdown so callers can see which upstream answered.
type ESIMResponse struct {
	Record   *types.MergedRecord `json:"record"`
	Sources  []reconcile.Outcome `json:"sources"`
	CacheHit bool                `json:"cache_hit"`
}

// @Summary      Lookup eSIM subscription
// @Description  Reconciles the subscription state for an ICCID across all providers and returns the merged view. Pass refresh=true to bypass the cached response.
// @Tags         ESIM
// @Produce      json
// @Param        iccid    path   string  true   "ICCID of the SIM"
// @Param        refresh  query  bool    false  "Bypass the lookup cache"
// @Success      200  {object}  handlers.RespESIM
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/esim/{iccid} [get]
func ApiGetESIM(svc reconcile.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := reconcile.LookupQuery{
			ICCID:    c.Param("iccid"),
			Refresh:  c.Query("refresh") == "true",
			ClientIP: c.ClientIP(),
		}
		res, err := svc.Lookup(c.Request.Context(), q)
		if err != nil {
			switch {
			case errors.Is(err, reconcile.ErrInvalidICCID):
				c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
			case errors.Is(err, reconcile.ErrNotFound):
				c.JSON(http.StatusNotFound, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "iccid not found with any provider", nil))
			default:
				c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ESIMResponse{
			Record:   res.Record,
			Sources:  res.Outcomes,
			CacheHit: res.CacheHit,
		}))
	}
}

// @Summary      Per-provider lookup breakdown
// @Description  Queries every provider live and reports found/score/error per provider without merging. Diagnostic surface.
// @Tags         ESIM
// @Produce      json
// @Param        iccid  path  string  true  "ICCID of the SIM"
// @Success      200  {object}  handlers.RespESIMSources
// @Router       /api/v1/esim/{iccid}/sources [get]
func ApiGetESIMSources(svc reconcile.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcomes, err := svc.Sources(c.Request.Context(), c.Param("iccid"))
		if err != nil {
			if errors.Is(err, reconcile.ErrInvalidICCID) {
				c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(outcomes))
	}
}

// @Summary      Invalidate cached lookup (Admin)
// @Description  Drops the cached reconciliation for an ICCID so the next lookup queries live.
// @Tags         Admin
// @Produce      json
// @Param        iccid  path  string  true  "ICCID of the SIM"
// @Success      200  {object}  handlers.RespOK
// @Router       /api/v1/admin/esim/{iccid}/cache [delete]
func ApiInvalidateESIMCache(svc reconcile.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Invalidate(c.Request.Context(), c.Param("iccid")); err != nil {
			if errors.Is(err, reconcile.ErrInvalidICCID) {
				c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterESIMRoutes(r gin.IRouter, svc reconcile.Service) {
	r.GET("/esim/:iccid", ApiGetESIM(svc))
	r.GET("/esim/:iccid/sources", ApiGetESIMSources(svc))
}
