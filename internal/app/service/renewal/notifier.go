package renewal

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/logctx"
)

// Notifier is the completion hook. Implementations must be best effort:
// a notification failure never changes order state.
type Notifier interface {
	NotifyCompleted(ctx context.Context, order *models.RenewalOrder)
}

type logNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier returns a Notifier that records completions in the
// application log. Stands in for customer email delivery.
func NewLogNotifier(l *zap.SugaredLogger) Notifier {
	return &logNotifier{log: l}
}

func (n *logNotifier) NotifyCompleted(ctx context.Context, order *models.RenewalOrder) {
	email := ""
	if order.CustomerEmail != nil {
		email = *order.CustomerEmail
	}
	logctx.FromCtx(ctx, n.log).Infow("renewal order completed",
		"order_id", order.OrderID,
		"iccid", order.ICCID,
		"provider", order.Provider,
		"plan", order.PlanName,
		"customer_email", email,
	)
}
