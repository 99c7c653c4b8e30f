package types

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusFailed         OrderStatus = "FAILED"
	OrderStatusProviderFailed OrderStatus = "PROVIDER_FAILED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// CanTransitionTo reports whether the renewal flow permits moving from s to
// next. PROVIDER_FAILED -> COMPLETED covers the operator-driven fulfillment
// retry; CANCELLED is only reachable from PENDING and is set externally.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusPaid || next == OrderStatusFailed || next == OrderStatusCancelled
	case OrderStatusPaid:
		return next == OrderStatusCompleted || next == OrderStatusProviderFailed
	case OrderStatusProviderFailed:
		return next == OrderStatusCompleted || next == OrderStatusProviderFailed
	}
	return false
}

// Fulfillable reports whether provider fulfillment may run for an order in
// this state. Payment must already be captured.
func (s OrderStatus) Fulfillable() bool {
	return s == OrderStatusPaid || s == OrderStatusProviderFailed
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)
