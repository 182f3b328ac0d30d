package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// PointsTransaction is one immutable entry in a customer's points log, keyed
// by (ledger_id, sequence) so concurrent appends contend on a narrow unique
// index instead of a whole document. Active is flipped off when an earned
// transaction expires; a synthetic expired row records the total swept.
type PointsTransaction struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	LedgerID    uuid.UUID                   `gorm:"column:ledger_id;type:uuid;not null;uniqueIndex:ux_points_transactions_ledger_seq"`
	Sequence    int64                       `gorm:"column:sequence;not null;uniqueIndex:ux_points_transactions_ledger_seq"`
	Type        enums.PointsTransactionType `gorm:"column:type;type:points_transaction_type_enum;not null"`
	Points      int64                       `gorm:"column:points;not null"`
	Description string                      `gorm:"column:description;not null"`
	OrderID     *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	PaymentID   *uuid.UUID                  `gorm:"column:payment_id;type:uuid"`
	RefundRef   *string                     `gorm:"column:refund_ref;index"`
	ExpiresAt   *time.Time                  `gorm:"column:expires_at"`
	Active      bool                        `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
