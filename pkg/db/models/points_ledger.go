package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PointsLedger is the per-customer materialized balance over the
// points_transactions event log. Version guards concurrent read-modify-write:
// every balance update carries the version it was computed from, and a stale
// write fails instead of losing an update.
//
// Invariant: AvailablePoints >= 0 and
// AvailablePoints + UsedPoints + ExpiredPoints == TotalPoints.
type PointsLedger struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID      uuid.UUID `gorm:"column:customer_id;type:uuid;not null;unique"`
	TotalPoints     int64     `gorm:"column:total_points;not null;default:0"`
	AvailablePoints int64     `gorm:"column:available_points;not null;default:0"`
	UsedPoints      int64     `gorm:"column:used_points;not null;default:0"`
	ExpiredPoints   int64     `gorm:"column:expired_points;not null;default:0"`
	// ConversionRate is currency units per point for redemption pricing.
	ConversionRate decimal.Decimal `gorm:"column:conversion_rate;type:numeric(12,4);not null;default:1"`
	ExpiryDays     int             `gorm:"column:expiry_days;not null;default:365"`
	Version        int64           `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
