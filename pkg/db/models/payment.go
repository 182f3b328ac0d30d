package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// Payment is the vendor-scoped ledger entry for one order. CommissionBps is
// copied from the vendor commission config at creation and never rewritten;
// VendorEarningsCents + PlatformRevenueCents always equals AmountCents, and a
// refund layers a RevenueAdjustment on top instead of mutating the split.
type Payment struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payments_order_vendor"`
	VendorID             uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:ux_payments_order_vendor"`
	AmountCents          int64               `gorm:"column:amount_cents;not null"`
	Currency             enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	CommissionBps        int                 `gorm:"column:commission_bps;not null"`
	VendorEarningsCents  int64               `gorm:"column:vendor_earnings_cents;not null"`
	PlatformRevenueCents int64               `gorm:"column:platform_revenue_cents;not null"`
	Method               enums.PaymentMethod `gorm:"column:method;type:payment_method_enum;not null;default:'card'"`
	Status               enums.PaymentStatus `gorm:"column:status;type:payment_status_enum;not null;default:'pending'"`
	TransactionRef       string              `gorm:"column:transaction_ref;not null;unique"`
	GatewayPaymentID     *string             `gorm:"column:gateway_payment_id"`
	RefundedCents        int64               `gorm:"column:refunded_cents;not null;default:0"`
	CompletedAt          *time.Time          `gorm:"column:completed_at"`
	FailureReason        *string             `gorm:"column:failure_reason"`
	RefundDetail         *RefundDetail       `gorm:"embedded;embeddedPrefix:refund_"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// RefundDetail records the last refund applied to a payment.
type RefundDetail struct {
	AmountCents int64      `gorm:"column:amount_cents"`
	Reason      string     `gorm:"column:reason"`
	ProcessorID *uuid.UUID `gorm:"column:processor_id;type:uuid"`
	RefundRef   string     `gorm:"column:ref"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`
}
