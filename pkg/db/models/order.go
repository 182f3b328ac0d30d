package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// Order is the settlement view of a multi-vendor customer order. The
// order-level status is derived from the per-vendor rows in VendorStatuses
// and is never written directly by a single vendor action.
type Order struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID     uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index"`
	Currency       enums.Currency           `gorm:"column:currency;type:text;not null;default:'USD'"`
	SubtotalCents  int64                    `gorm:"column:subtotal_cents;not null"`
	TotalCents     int64                    `gorm:"column:total_cents;not null"`
	Status         enums.OrderStatus        `gorm:"column:status;type:order_status_enum;not null;default:'pending'"`
	PaymentStatus  enums.OrderPaymentStatus `gorm:"column:payment_status;type:order_payment_status_enum;not null;default:'unpaid'"`
	Items          []OrderLineItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	VendorStatuses []OrderVendorStatus      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
