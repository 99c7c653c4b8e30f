package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/response"
	"github.com/pulsetel/simhub/pkg/types"
)

// OrderView is the public projection of a renewal order. The raw
// ProviderContext bag stays internal; only the failure fields operators
// and customers need are lifted out of it.
type OrderView struct {
	OrderID          string            `json:"order_id"`
	ICCID            string            `json:"iccid"`
	Provider         types.Provider    `json:"provider"`
	PlanName         string            `json:"plan_name"`
	AmountCents      int64             `json:"amount_cents"`
	Currency         string            `json:"currency"`
	Status           types.OrderStatus `json:"status"`
	ProviderOrderRef *string           `json:"provider_order_ref,omitempty"`
	FailureDetail    string            `json:"failure_detail,omitempty"`
	PaymentCaptured  bool              `json:"payment_captured,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

func toOrderView(o *models.RenewalOrder) *OrderView {
	if o == nil {
		return nil
	}
	return &OrderView{
		OrderID:          o.OrderID,
		ICCID:            o.ICCID,
		Provider:         o.Provider,
		PlanName:         o.PlanName,
		AmountCents:      o.AmountCents,
		Currency:         o.Currency,
		Status:           o.Status,
		ProviderOrderRef: o.ProviderOrderRef,
		FailureDetail:    o.FailureDetail(),
		PaymentCaptured:  o.PaymentCaptured(),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		CompletedAt:      o.CompletedAt,
	}
}

type CreateRenewalResponse struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// @Summary      Create renewal order
// @Description  Creates a renewal order for an ICCID, prices it in the requested currency and opens a hosted checkout session. The caller redirects the customer to checkout_url.
// @Tags         Renewal
// @Accept       json
// @Produce      json
// @Param        request body renewal.CreateOrderRequest true "Renewal request"
// @Success      200  {object}  handlers.RespCreateRenewal
// @Router       /api/v1/renewals [post]
func ApiCreateRenewal(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req renewal.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
			return
		}
		res, err := mgr.CreateOrder(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, renewal.ErrPackageNotFound) {
				c.JSON(http.StatusNotFound, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CreateRenewalResponse{
			OrderID:     res.Order.OrderID,
			CheckoutURL: res.CheckoutURL,
			SessionID:   res.SessionID,
			AmountCents: res.Order.AmountCents,
			Currency:    res.Order.Currency,
		}))
	}
}

// @Summary      Confirm renewal payment
// @Description  Success-redirect target of the hosted checkout. Verifies the session with the gateway, commits the payment outcome and runs provider fulfillment. A provider failure after capture is reported in the order snapshot, not retried.
// @Tags         Renewal
// @Produce      json
// @Param        session_id  query  string  true  "Checkout session id"
// @Success      200  {object}  handlers.RespOrder
// @Failure      402  {object}  handlers.RespOrder
// @Router       /api/v1/renewals/confirm [get]
func ApiConfirmRenewal(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := mgr.ConfirmAndFulfill(c.Request.Context(), c.Query("session_id"))
		respondConfirmOutcome(c, order, err)
	}
}

// respondConfirmOutcome maps a ConfirmAndFulfill result onto the envelope.
// Shared by the redirect confirm endpoint and the webhook handler's
// diagnostics; the partial-failure case intentionally answers 200 with the
// PROVIDER_FAILED snapshot so the caller sees the state instead of a bare
// error.
func respondConfirmOutcome(c *gin.Context, order *models.RenewalOrder, err error) {
	if err != nil {
		var fe *renewal.FulfillmentError
		switch {
		case errors.As(err, &fe):
			c.JSON(http.StatusOK, response.ErrorMsgT(response.APIResponseCodeError, fe.Error(), toOrderView(order)))
		case errors.Is(err, renewal.ErrPaymentNotConfirmed):
			c.JSON(http.StatusPaymentRequired, response.ErrorMsgT(response.APIResponseCodeBadRequest, "payment not confirmed", toOrderView(order)))
		case errors.Is(err, renewal.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
		}
		return
	}
	c.JSON(http.StatusOK, response.OKT(toOrderView(order)))
}

// @Summary      Get renewal order
// @Description  Returns the order status snapshot by its public id.
// @Tags         Renewal
// @Produce      json
// @Param        orderId  path  string  true  "Public order id (REN-...)"
// @Success      200  {object}  handlers.RespOrder
// @Router       /api/v1/renewals/{orderId} [get]
func ApiGetRenewalOrder(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := mgr.GetOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			if errors.Is(err, renewal.ErrOrderNotFound) {
				c.JSON(http.StatusNotFound, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, err.Error(), nil))
				return
			}
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toOrderView(order)))
	}
}

// @Summary      List renewal packages
// @Description  Returns the active renewal catalog, optionally filtered by provider and country code.
// @Tags         Renewal
// @Produce      json
// @Param        provider  query  string  false  "Provider filter (airhub|esimcard|travelroam)"
// @Param        country   query  string  false  "ISO country code filter"
// @Success      200  {object}  handlers.RespPackages
// @Router       /api/v1/packages [get]
func ApiListPackages(mgr renewal.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		pkgs, err := mgr.ListPackages(c.Request.Context(), c.Query("provider"), c.Query("country"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(pkgs))
	}
}

func RegisterRenewalRoutes(r gin.IRouter, mgr renewal.Manager) {
	r.GET("/packages", ApiListPackages(mgr))
	r.POST("/renewals", ApiCreateRenewal(mgr))
	r.GET("/renewals/confirm", ApiConfirmRenewal(mgr))
	r.GET("/renewals/:orderId", ApiGetRenewalOrder(mgr))
}
