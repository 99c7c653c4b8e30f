package models

import "time"

// ESIMQueryLog is one reconciliation lookup, written asynchronously after
// the response has been served. Used for hit-rate and provider-coverage
// reporting, never read on the request path.
type ESIMQueryLog struct {
	ID    string `gorm:"column:id;primary_key;type:uuid" json:"id"`
	ICCID string `gorm:"column:iccid;type:varchar(32);not null;index" json:"iccid"`
	Found bool   `gorm:"column:found;not null" json:"found"`
	// Sources is the comma-joined display names of providers that
	// contributed, in fixed provider order.
	Sources         string    `gorm:"column:sources;type:varchar(128)" json:"sources"`
	PrimaryProvider *string   `gorm:"column:primary_provider;type:varchar(32);default:null" json:"primary_provider"`
	BestScore       *int      `gorm:"column:best_score;type:int;default:null" json:"best_score"`
	CacheHit        bool      `gorm:"column:cache_hit;not null" json:"cache_hit"`
	DurationMs      int64     `gorm:"column:duration_ms;type:bigint;not null" json:"duration_ms"`
	ClientIP        string    `gorm:"column:client_ip;type:varchar(64)" json:"client_ip"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ESIMQueryLog) TableName() string {
	return "esim_query_log"
}
