package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/pulsetel/simhub/pkg/types"
)

// RenewalOrder is one renewal purchase attempt. Orders are never deleted:
// together with ProviderContext and the payment transaction they form the
// audit trail for every state the order passed through, including the
// paid-but-not-fulfilled case an operator has to reconcile by hand.
type RenewalOrder struct {
	ID          string            `gorm:"column:id;primary_key;type:uuid" json:"id"`
	OrderID     string            `gorm:"column:order_id;type:varchar(32);not null;uniqueIndex" json:"order_id"`
	ICCID       string            `gorm:"column:iccid;type:varchar(32);not null;index" json:"iccid"`
	Provider    types.Provider    `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	PlanName    string            `gorm:"column:plan_name;type:varchar(255)" json:"plan_name"`
	AmountCents int64             `gorm:"column:amount_cents;type:bigint;not null" json:"amount_cents"`
	Currency    string            `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status      types.OrderStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	// ProviderOrderRef is the provider-side order/transaction reference
	// returned by a successful fulfillment.
	ProviderOrderRef *string `gorm:"column:provider_order_ref;type:varchar(128);default:null" json:"provider_order_ref"`
	// ProviderContext carries renewal parameters between the payment and
	// fulfillment phases, which run in separate DB transactions. For
	// PROVIDER_FAILED orders it additionally records the failure detail and
	// the paymentCaptured flag.
	ProviderContext datatypes.JSONType[map[string]string] `gorm:"column:provider_context;type:jsonb;default:'{}'" json:"provider_context"`
	CustomerEmail   *string                               `gorm:"column:customer_email;type:varchar(255);default:null" json:"customer_email"`
	CreatedAt       time.Time                             `json:"created_at"`
	UpdatedAt       time.Time                             `json:"updated_at"`
	CompletedAt     *time.Time                            `gorm:"column:completed_at;default:null" json:"completed_at"`
}

func (RenewalOrder) TableName() string {
	return "renewal_order"
}

// CtxValue returns one value from the provider context bag, "" when unset.
func (o *RenewalOrder) CtxValue(key string) string {
	if o == nil {
		return ""
	}
	m := o.ProviderContext.Data()
	if m == nil {
		return ""
	}
	return m[key]
}

// FailureDetail returns the recorded failure cause for FAILED and
// PROVIDER_FAILED orders, "" otherwise.
func (o *RenewalOrder) FailureDetail() string {
	return o.CtxValue("failureDetail")
}

// PaymentCaptured reports whether money was collected for this order. Set
// on the PROVIDER_FAILED path, where it flags the manual-reconciliation
// case of payment without service.
func (o *RenewalOrder) PaymentCaptured() bool {
	return o.CtxValue("paymentCaptured") == "true"
}

// MergedCtx returns a copy of the context bag with kv merged in. The stored
// bag is not modified.
func (o *RenewalOrder) MergedCtx(kv map[string]string) map[string]string {
	out := map[string]string{}
	if o != nil {
		for k, v := range o.ProviderContext.Data() {
			out[k] = v
		}
	}
	for k, v := range kv {
		out[k] = v
	}
	return out
}
