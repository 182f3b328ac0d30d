package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// ReconciliationTask records a refund whose gateway leg succeeded but whose
// local bookkeeping did not fully commit. The cron worker replays the missing
// steps; each step flag flips once its write is confirmed, so replays are
// idempotent.
type ReconciliationTask struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID         uuid.UUID                  `gorm:"column:payment_id;type:uuid;not null;index"`
	OrderID           uuid.UUID                  `gorm:"column:order_id;type:uuid;not null"`
	VendorID          uuid.UUID                  `gorm:"column:vendor_id;type:uuid;not null"`
	CustomerID        uuid.UUID                  `gorm:"column:customer_id;type:uuid;not null"`
	SupportTicketID   *uuid.UUID                 `gorm:"column:support_ticket_id;type:uuid"`
	ProcessedBy       uuid.UUID                  `gorm:"column:processed_by;type:uuid;not null"`
	RefundRef         string                     `gorm:"column:refund_ref;not null;unique"`
	RefundAmountCents int64                      `gorm:"column:refund_amount_cents;not null"`
	Reason            string                     `gorm:"column:reason;not null"`
	CommissionBps     int                        `gorm:"column:commission_bps;not null"`
	PaymentDone       bool                       `gorm:"column:payment_done;not null;default:false"`
	AdjustmentDone    bool                       `gorm:"column:adjustment_done;not null;default:false"`
	PointsDone        bool                       `gorm:"column:points_done;not null;default:false"`
	TicketDone        bool                       `gorm:"column:ticket_done;not null;default:false"`
	Status            enums.ReconciliationStatus `gorm:"column:status;type:reconciliation_status_enum;not null;default:'pending'"`
	AttemptCount      int                        `gorm:"column:attempt_count;not null;default:0"`
	LastError         *string                    `gorm:"column:last_error"`
	NextAttemptAt     time.Time                  `gorm:"column:next_attempt_at;not null"`
	CompletedAt       *time.Time                 `gorm:"column:completed_at"`
	CreatedAt         time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
