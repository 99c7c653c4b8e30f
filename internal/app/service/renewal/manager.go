package renewal

import (
	"context"
	"errors"
	"fmt"

	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/types"
)

var (
	ErrOrderNotFound   = errors.New("renewal: order not found")
	ErrPackageNotFound = errors.New("renewal: package not found")
	// ErrPaymentNotConfirmed means the gateway did not report the session
	// as paid. The order is failed and fulfillment is never attempted.
	ErrPaymentNotConfirmed = errors.New("renewal: payment not confirmed")
	ErrInvalidTransition   = errors.New("renewal: invalid order state transition")
)

// FulfillmentError marks a provider-side failure after payment capture.
// The payment is never reverted or refunded; the order is left
// PROVIDER_FAILED for an operator-driven retry.
type FulfillmentError struct {
	OrderID string
	Step    string
	Err     error
}

func (e *FulfillmentError) Error() string {
	return fmt.Sprintf("renewal %s: fulfillment step %s failed: %v", e.OrderID, e.Step, e.Err)
}

func (e *FulfillmentError) Unwrap() error { return e.Err }

// Renewal-specific keys of the order's ProviderContext bag. The keys the
// provider clients consume (packageId, renewalDays, orderReference, ...)
// are shared with the provider package.
const (
	ctxPlanName        = "planName"
	ctxCountryCode     = "countryCode"
	ctxProviderMessage = "providerMessage"
	ctxFailureDetail   = "failureDetail"
	ctxPaymentCaptured = "paymentCaptured"
	ctxFailedStep      = "failedStep"
)

// Fulfillment step names recorded on failures.
const (
	stepCheckout = "create_checkout"
	stepConfirm  = "confirm_payment"
	stepResolve  = "resolve_parameters"
	stepFulfill  = "provider_fulfill"
)

type CreateOrderRequest struct {
	ICCID string `json:"iccid" binding:"required"`
	// Provider optionally scopes the package resolution; the package's own
	// provider is authoritative for the order.
	Provider      string `json:"provider"`
	PackageID     string `json:"package_id" binding:"required"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

type CreateOrderResult struct {
	Order       *models.RenewalOrder `json:"order"`
	SessionID   string               `json:"session_id"`
	CheckoutURL string               `json:"checkout_url"`
}

type ScanOrdersRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanOrdersResponse struct {
	Items []*models.RenewalOrder `json:"items"`
	Total int64                  `json:"total"`
}

// Manager drives renewal orders through PENDING -> PAID -> COMPLETED.
type Manager interface {
	// CreateOrder resolves the package, prices the order in the requested
	// currency and opens a checkout session. The order starts PENDING.
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error)
	// ConfirmAndFulfill verifies the checkout session and, when the order
	// just moved to PAID, runs provider fulfillment. Confirmation and
	// fulfillment commit in separate DB transactions; a fulfillment
	// failure leaves the order PROVIDER_FAILED with the payment captured
	// and returns *FulfillmentError. Idempotent: orders already past
	// PENDING are not re-confirmed and PROVIDER_FAILED is never retried
	// here.
	ConfirmAndFulfill(ctx context.Context, sessionID string) (*models.RenewalOrder, error)
	// RetryFulfillment re-runs provider fulfillment for a PAID or
	// PROVIDER_FAILED order. Operator-driven only.
	RetryFulfillment(ctx context.Context, orderID string) (*models.RenewalOrder, error)
	// GetOrder returns the order by its public id.
	GetOrder(ctx context.Context, orderID string) (*models.RenewalOrder, error)
	// ListPackages returns active catalog packages, optionally filtered by
	// provider and country.
	ListPackages(ctx context.Context, provider, countryCode string) ([]*models.RenewalPackage, error)
	// ScanOrders implements admin listing with filters and pagination.
	ScanOrders(ctx context.Context, req *ScanOrdersRequest) (*ScanOrdersResponse, error)
}
