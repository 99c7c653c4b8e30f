package models

import (
	"time"

	"github.com/pulsetel/simhub/pkg/types"
)

// RenewalPackage is one entry of the renewal catalog. Prices are kept in
// USD cents; conversion to the customer's currency happens at order time.
type RenewalPackage struct {
	ID       string         `gorm:"column:id;primary_key;type:uuid" json:"id"`
	Provider types.Provider `gorm:"column:provider;type:varchar(32);not null;index" json:"provider"`
	Name     string         `gorm:"column:name;type:varchar(255);not null" json:"name"`
	// PackageID is the provider-side package/bundle identifier used for
	// fulfillment. For the bundle provider it may be empty, in which case
	// fulfillment resolves it from the plan label at fulfillment time.
	PackageID     string     `gorm:"column:package_id;type:varchar(128);index" json:"package_id"`
	DataAmount    string     `gorm:"column:data_amount;type:varchar(32)" json:"data_amount"`
	ValidityDays  int        `gorm:"column:validity_days;type:int;not null" json:"validity_days"`
	PriceCentsUSD int64      `gorm:"column:price_cents_usd;type:bigint;not null" json:"price_cents_usd"`
	CountryCode   string     `gorm:"column:country_code;type:varchar(8);index" json:"country_code"`
	Active        bool       `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (RenewalPackage) TableName() string {
	return "renewal_package"
}
