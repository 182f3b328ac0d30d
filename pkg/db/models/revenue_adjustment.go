package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// RevenueAdjustment is a signed correction to previously realized
// vendor/platform revenue, created once per refund or chargeback event.
// Delta fields are negative for refunds. RefundRef makes replay idempotent:
// one adjustment per gateway refund reference.
type RevenueAdjustment struct {
	ID                    uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type                  enums.AdjustmentType   `gorm:"column:type;type:adjustment_type_enum;not null;default:'refund'"`
	PaymentID             uuid.UUID              `gorm:"column:payment_id;type:uuid;not null;index"`
	OrderID               uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID              uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null;index"`
	CustomerID            uuid.UUID              `gorm:"column:customer_id;type:uuid;not null"`
	SupportTicketID       *uuid.UUID             `gorm:"column:support_ticket_id;type:uuid"`
	RefundRef             string                 `gorm:"column:refund_ref;not null;unique"`
	RefundAmountCents     int64                  `gorm:"column:refund_amount_cents;not null"`
	CommissionBps         int                    `gorm:"column:commission_bps;not null"`
	OriginalVendorCents   int64                  `gorm:"column:original_vendor_cents;not null"`
	OriginalPlatformCents int64                  `gorm:"column:original_platform_cents;not null"`
	VendorDeltaCents      int64                  `gorm:"column:vendor_delta_cents;not null"`
	PlatformDeltaCents    int64                  `gorm:"column:platform_delta_cents;not null"`
	AdjustedVendorCents   int64                  `gorm:"column:adjusted_vendor_cents;not null"`
	AdjustedPlatformCents int64                  `gorm:"column:adjusted_platform_cents;not null"`
	PointsCredited        int64                  `gorm:"column:points_credited;not null;default:0"`
	Status                enums.AdjustmentStatus `gorm:"column:status;type:adjustment_status_enum;not null;default:'pending'"`
	ProcessedBy           uuid.UUID              `gorm:"column:processed_by;type:uuid;not null"`
	ProcessedAt           *time.Time             `gorm:"column:processed_at"`
	ReversedBy            *uuid.UUID             `gorm:"column:reversed_by;type:uuid"`
	ReversedAt            *time.Time             `gorm:"column:reversed_at"`
	ReversalReason        *string                `gorm:"column:reversal_reason"`
	CreatedAt             time.Time              `gorm:"column:created_at;autoCreateTime"`
}
