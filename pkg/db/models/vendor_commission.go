package models

import (
	"time"

	"github.com/google/uuid"
)

// VendorCommission is the per-vendor platform cut, in basis points. Resolved
// once at payment creation and copied onto the Payment so later adjustments
// always reuse the rate that was actually applied.
type VendorCommission struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID      uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;unique"`
	CommissionBps int       `gorm:"column:commission_bps;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
