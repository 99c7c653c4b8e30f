package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/platform/payment"
	"github.com/pulsetel/simhub/pkg/logctx"
	"github.com/pulsetel/simhub/pkg/response"
	"go.uber.org/zap"
)

// @Summary      Stripe Webhook
// @Description  Handles checkout session events from the payment gateway. The raw body is verified against the Stripe-Signature header; completion events run payment confirmation and fulfillment.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body string true "Stripe event payload"
// @Success      200  {object}  handlers.RespOK
// @Router       /webhooks/stripe [post]
// ApiStripeWebhook handles Stripe checkout session notifications.
func ApiStripeWebhook(gw payment.Gateway, mgr renewal.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logctx.FromGin(c, log)

		body, err := c.GetRawData()
		if err != nil {
			l.Errorw("webhook_stripe_body_error", "error", err.Error())
			c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "unreadable payload", nil))
			return
		}
		event, err := gw.VerifyWebhook(body, c.GetHeader("Stripe-Signature"))
		if err != nil {
			l.Errorw("webhook_stripe_verify_error", "error", err.Error())
			c.JSON(http.StatusBadRequest, response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "signature verification failed", nil))
			return
		}

		if event.Handle == "" {
			// Not a checkout completion; acknowledge so the gateway stops
			// redelivering event types this service does not consume.
			l.Infow("webhook_stripe_ignored", "type", event.Type)
			c.JSON(http.StatusOK, response.OKT[any](nil))
			return
		}

		l.Infow("webhook_stripe_received", "type", event.Type, "session_id", event.Handle, "order_id", event.OrderID)
		order, err := mgr.ConfirmAndFulfill(c.Request.Context(), event.Handle)
		if err != nil {
			var fe *renewal.FulfillmentError
			switch {
			case errors.As(err, &fe):
				// Payment is captured and the order sits in PROVIDER_FAILED
				// for operator recovery. Acknowledge: webhook redelivery must
				// not turn into an automatic fulfillment retry.
				l.Errorw("webhook_stripe_partial_failure", "order_id", fe.OrderID, "step", fe.Step, "error", fe.Err.Error())
				c.JSON(http.StatusOK, response.ErrorMsgT(response.APIResponseCodeError, fe.Error(), toOrderView(order)))
			case errors.Is(err, renewal.ErrPaymentNotConfirmed):
				l.Warnw("webhook_stripe_unpaid_session", "session_id", event.Handle)
				c.JSON(http.StatusOK, response.ErrorMsgT(response.APIResponseCodeBadRequest, "payment not confirmed", toOrderView(order)))
			default:
				// Transient confirmation failure: answer non-2xx so the
				// gateway redelivers and confirmation is retried.
				l.Errorw("webhook_stripe_handle_error", "session_id", event.Handle, "error", err.Error())
				c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}
		l.Infow("webhook_stripe_handled", "session_id", event.Handle, "order_status", order.Status)
		c.JSON(http.StatusOK, response.OKT(toOrderView(order)))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, gw payment.Gateway, mgr renewal.Manager, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(gw, mgr, log))
}
