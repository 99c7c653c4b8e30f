package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/pulsetel/simhub/pkg/types"
)

// PaymentTransaction is the one-to-one payment record of a renewal order.
// Created when checkout is initiated, updated when the gateway confirms.
// Once the gateway reports paid the status only ever moves forward to
// succeeded; the renewal flow never reverts or refunds it.
type PaymentTransaction struct {
	ID             string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	RenewalOrderID string `gorm:"column:renewal_order_id;type:uuid;not null;uniqueIndex" json:"renewal_order_id"`
	// ExternalPaymentRef is the gateway checkout handle (session id).
	ExternalPaymentRef string `gorm:"column:external_payment_ref;type:varchar(255);not null;uniqueIndex" json:"external_payment_ref"`
	// ChargeRef is the gateway payment reference (payment intent), known
	// only after confirmation.
	ChargeRef   *string             `gorm:"column:charge_ref;type:varchar(255);default:null" json:"charge_ref"`
	AmountCents int64               `gorm:"column:amount_cents;type:bigint;not null" json:"amount_cents"`
	Currency    string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status      types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	RawResponse datatypes.JSON      `gorm:"column:raw_response;type:jsonb;default:'{}'" json:"raw_response"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transaction"
}

// Settled reports whether the gateway outcome has been recorded.
func (t *PaymentTransaction) Settled() bool {
	if t == nil {
		return false
	}
	return t.Status == types.PaymentStatusSucceeded || t.Status == types.PaymentStatusFailed || t.Status == types.PaymentStatusRefunded
}
