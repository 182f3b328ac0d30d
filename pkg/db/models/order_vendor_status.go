package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// OrderVendorStatus is the per-(order, vendor) settlement sub-status. Each
// vendor progresses its own row; the order-level status is an aggregate over
// all rows for the order.
type OrderVendorStatus struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_vendor_statuses_order_vendor"`
	VendorID    uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_order_vendor_statuses_order_vendor"`
	Status      enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null;default:'pending'"`
	DeliveredAt *time.Time        `gorm:"column:delivered_at"`
	CancelledAt *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
