package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/pulsetel/simhub/internal/app/service/reconcile"
	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/app/service/statistics"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/response"
	"github.com/pulsetel/simhub/pkg/types"
)

type ListOrdersRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListOrdersResponse struct {
	Items []*OrderView `json:"items"`
	Total int64        `json:"total"`
}

// @Summary      List Renewal Orders (Admin)
// @Description  Retrieves a paginated and filterable list of renewal orders.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body ListOrdersRequest true "List request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListOrders
// @Router       /api/v1/admin/orders/list [post]
func ApiListRenewalOrders(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListOrdersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		scanReq := &renewal.ScanOrdersRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		res, err := mgr.ScanOrders(c.Request.Context(), scanReq)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		items := lo.Map(res.Items, func(o *models.RenewalOrder, _ int) *OrderView { return toOrderView(o) })
		c.JSON(http.StatusOK, response.OKT(&ListOrdersResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Retry Fulfillment (Admin)
// @Description  Re-runs provider fulfillment for a PAID or PROVIDER_FAILED order. Operator recovery path for payment-captured-but-not-delivered orders; never touches the payment.
// @Tags         Admin
// @Produce      json
// @Param        orderId  path  string  true  "Public order id (REN-...)"
// @Success      200  {object}  handlers.RespOrder
// @Router       /api/v1/admin/orders/{orderId}/retry-fulfillment [post]
func ApiRetryFulfillment(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := mgr.RetryFulfillment(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			var fe *renewal.FulfillmentError
			switch {
			case errors.As(err, &fe):
				c.JSON(http.StatusOK, response.ErrorMsgT(response.APIResponseCodeError, fe.Error(), toOrderView(order)))
			case errors.Is(err, renewal.ErrOrderNotFound):
				c.JSON(http.StatusNotFound, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
			case errors.Is(err, renewal.ErrInvalidTransition):
				c.JSON(http.StatusConflict, response.ErrorMsgT(response.APIResponseCodeBadRequest, err.Error(), toOrderView(order)))
			default:
				c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(toOrderView(order)))
	}
}

// @Summary      Get Statistics (Admin)
// @Description  Returns order and lookup aggregates for the ops dashboard. types is a comma-separated list of statistic ids; omitted means all.
// @Tags         Admin
// @Produce      json
// @Param        types  query  string  false  "Comma-separated statistic types"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [get]
func ApiGetStatistics(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &statistics.StatisticRequest{}
		if raw := strings.TrimSpace(c.Query("types")); raw != "" {
			for _, s := range strings.Split(raw, ",") {
				t, ok := statistics.ParseType(strings.TrimSpace(s))
				if !ok {
					c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "unknown statistic type: "+s, nil))
					return
				}
				req.DataItems = append(req.DataItems, &statistics.StatisticDataItem{ID: t})
			}
		} else {
			req.DataItems = statistics.AllDataItems()
		}
		res, err := svc.GetStatistics(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, mgr renewal.Manager, stats *statistics.Service, lookups reconcile.Service) {
	r.POST("/orders/list", ApiListRenewalOrders(mgr))
	r.POST("/orders/:orderId/retry-fulfillment", ApiRetryFulfillment(mgr))
	r.GET("/statistics", ApiGetStatistics(stats))
	r.DELETE("/esim/:iccid/cache", ApiInvalidateESIMCache(lookups))
}
