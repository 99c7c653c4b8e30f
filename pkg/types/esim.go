package types

import "time"

type ActivationStatus string

const (
	ActivationStatusActive    ActivationStatus = "Active"
	ActivationStatusInactive  ActivationStatus = "Inactive"
	ActivationStatusInstalled ActivationStatus = "Installed"
	ActivationStatusReleased  ActivationStatus = "Released"
	ActivationStatusEnabled   ActivationStatus = "Enabled"
	ActivationStatusDisabled  ActivationStatus = "Disabled"
	ActivationStatusExpired   ActivationStatus = "Expired"
	ActivationStatusUnknown   ActivationStatus = "Unknown"
)

// ActiveLike reports whether the status counts as usable when scoring a
// provider record.
func (s ActivationStatus) ActiveLike() bool {
	return s == ActivationStatusActive || s == ActivationStatusEnabled || s == ActivationStatusInstalled
}

// ProviderRecord is a single provider's normalized view of one subscription.
// Unset fields are nil, never placeholder strings; a provider that has no
// match for an ICCID produces no record at all rather than an empty one.
type ProviderRecord struct {
	Provider         Provider         `json:"provider"`
	ExternalID       string           `json:"external_id"`
	ICCID            string           `json:"iccid"`
	PlanLabel        string           `json:"plan_label"`
	ActivationStatus ActivationStatus `json:"activation_status"`
	PurchaseTime     *time.Time       `json:"purchase_time"`
	ValidityDays     *int             `json:"validity_days"`
	DataCapacity     *string          `json:"data_capacity"`
	DataConsumed     *string          `json:"data_consumed"`
	DataRemaining    *string          `json:"data_remaining"`
	ActivationCode   *string          `json:"activation_code"`
	AccessPointName  *string          `json:"access_point_name"`
	BundleStartTime  *time.Time       `json:"bundle_start_time"`
	BundleEndTime    *time.Time       `json:"bundle_end_time"`
}

// MergedRecord is the reconciliation result: the ProviderRecord shape plus
// the providers that contributed and the primary source. It is recomputed
// from live provider data on every query and never persisted.
type MergedRecord struct {
	ICCID            string           `json:"iccid"`
	ExternalID       string           `json:"external_id"`
	PlanLabel        string           `json:"plan_label"`
	ActivationStatus ActivationStatus `json:"activation_status"`
	PurchaseTime     *time.Time       `json:"purchase_time"`
	ValidityDays     *int             `json:"validity_days"`
	DataCapacity     *string          `json:"data_capacity"`
	DataConsumed     *string          `json:"data_consumed"`
	DataRemaining    *string          `json:"data_remaining"`
	ActivationCode   *string          `json:"activation_code"`
	AccessPointName  *string          `json:"access_point_name"`
	BundleStartTime  *time.Time       `json:"bundle_start_time"`
	BundleEndTime    *time.Time       `json:"bundle_end_time"`
	DataSources      []string         `json:"data_sources"`
	PrimaryProvider  Provider         `json:"primary_provider"`
}
