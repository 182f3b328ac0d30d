package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// OrderStatusHistory is the append-only trail of status writes. VendorID is
// nil for aggregate order-level recomputations.
type OrderStatusHistory struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID    *uuid.UUID        `gorm:"column:vendor_id;type:uuid"`
	FromStatus  enums.OrderStatus `gorm:"column:from_status;type:order_status_enum;not null"`
	ToStatus    enums.OrderStatus `gorm:"column:to_status;type:order_status_enum;not null"`
	ActorUserID uuid.UUID         `gorm:"column:actor_user_id;type:uuid;not null"`
	Note        *string           `gorm:"column:note"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
}
