package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// OrderStatusChangedEvent is emitted on every per-vendor sub-status write.
type OrderStatusChangedEvent struct {
	OrderID         uuid.UUID         `json:"orderId"`
	VendorID        uuid.UUID         `json:"vendorId"`
	FromStatus      enums.OrderStatus `json:"fromStatus"`
	ToStatus        enums.OrderStatus `json:"toStatus"`
	AggregateStatus enums.OrderStatus `json:"aggregateStatus"`
}

// OrderDeliveredEvent marks a vendor-scoped delivery confirmation.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	VendorID    uuid.UUID `json:"vendorId"`
	PaymentID   uuid.UUID `json:"paymentId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// OrderCancelledEvent marks a vendor-scoped cancellation from pending.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	VendorID    uuid.UUID `json:"vendorId"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// PaymentCompletedEvent carries the realized revenue split.
type PaymentCompletedEvent struct {
	PaymentID            uuid.UUID `json:"paymentId"`
	OrderID              uuid.UUID `json:"orderId"`
	VendorID             uuid.UUID `json:"vendorId"`
	AmountCents          int64     `json:"amountCents"`
	VendorEarningsCents  int64     `json:"vendorEarningsCents"`
	PlatformRevenueCents int64     `json:"platformRevenueCents"`
	TransactionRef       string    `json:"transactionRef"`
}

// PaymentFailedEvent reports an administrative failure transition.
type PaymentFailedEvent struct {
	PaymentID uuid.UUID `json:"paymentId"`
	OrderID   uuid.UUID `json:"orderId"`
	VendorID  uuid.UUID `json:"vendorId"`
	Reason    string    `json:"reason,omitempty"`
}

// PaymentRefundedEvent reports a gateway-confirmed refund.
type PaymentRefundedEvent struct {
	PaymentID         uuid.UUID `json:"paymentId"`
	OrderID           uuid.UUID `json:"orderId"`
	VendorID          uuid.UUID `json:"vendorId"`
	RefundRef         string    `json:"refundRef"`
	RefundAmountCents int64     `json:"refundAmountCents"`
	Reason            string    `json:"reason,omitempty"`
}

// AdjustmentCreatedEvent carries the signed revenue correction.
type AdjustmentCreatedEvent struct {
	AdjustmentID       uuid.UUID            `json:"adjustmentId"`
	Type               enums.AdjustmentType `json:"type"`
	PaymentID          uuid.UUID            `json:"paymentId"`
	OrderID            uuid.UUID            `json:"orderId"`
	VendorID           uuid.UUID            `json:"vendorId"`
	RefundAmountCents  int64                `json:"refundAmountCents"`
	VendorDeltaCents   int64                `json:"vendorDeltaCents"`
	PlatformDeltaCents int64                `json:"platformDeltaCents"`
	PointsCredited     int64                `json:"pointsCredited"`
}

// PointsCreditedEvent reports an accrual or refund credit.
type PointsCreditedEvent struct {
	LedgerID   uuid.UUID                   `json:"ledgerId"`
	CustomerID uuid.UUID                   `json:"customerId"`
	Type       enums.PointsTransactionType `json:"type"`
	Points     int64                       `json:"points"`
	Available  int64                       `json:"available"`
}

// PointsRedeemedEvent reports a successful redemption.
type PointsRedeemedEvent struct {
	LedgerID   uuid.UUID  `json:"ledgerId"`
	CustomerID uuid.UUID  `json:"customerId"`
	Points     int64      `json:"points"`
	OrderID    *uuid.UUID `json:"orderId,omitempty"`
	Available  int64      `json:"available"`
}

// PointsExpiredEvent reports a sweep that retired earned points.
type PointsExpiredEvent struct {
	LedgerID      uuid.UUID `json:"ledgerId"`
	CustomerID    uuid.UUID `json:"customerId"`
	ExpiredPoints int64     `json:"expiredPoints"`
	Available     int64     `json:"available"`
}

// ReconciliationQueuedEvent flags money moved at the gateway without the
// books fully balancing locally.
type ReconciliationQueuedEvent struct {
	TaskID    uuid.UUID `json:"taskId"`
	PaymentID uuid.UUID `json:"paymentId"`
	OrderID   uuid.UUID `json:"orderId"`
	RefundRef string    `json:"refundRef"`
}
