package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateAdjustment   OutboxAggregateType = "revenue_adjustment"
	AggregatePointsLedger OutboxAggregateType = "points_ledger"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregateAdjustment,
	AggregatePointsLedger,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventOrderStatusChanged   OutboxEventType = "order_status_changed"
	EventOrderDelivered       OutboxEventType = "order_delivered"
	EventOrderCancelled       OutboxEventType = "order_cancelled"
	EventPaymentCompleted     OutboxEventType = "payment_completed"
	EventPaymentFailed        OutboxEventType = "payment_failed"
	EventPaymentRefunded      OutboxEventType = "payment_refunded"
	EventAdjustmentCreated    OutboxEventType = "revenue_adjustment_created"
	EventPointsCredited       OutboxEventType = "points_credited"
	EventPointsRedeemed       OutboxEventType = "points_redeemed"
	EventPointsExpired        OutboxEventType = "points_expired"
	EventReconciliationQueued OutboxEventType = "reconciliation_queued"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderStatusChanged,
	EventOrderDelivered,
	EventOrderCancelled,
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventAdjustmentCreated,
	EventPointsCredited,
	EventPointsRedeemed,
	EventPointsExpired,
	EventReconciliationQueued,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxDLQErrorReason categorizes terminal publish failures.
type OutboxDLQErrorReason string

const (
	DLQReasonMaxAttempts      OutboxDLQErrorReason = "max_attempts_exceeded"
	DLQReasonUnknownEventType OutboxDLQErrorReason = "unknown_event_type"
	DLQReasonMalformedPayload OutboxDLQErrorReason = "malformed_payload"
)

var validDLQReasons = []OutboxDLQErrorReason{
	DLQReasonMaxAttempts,
	DLQReasonUnknownEventType,
	DLQReasonMalformedPayload,
}

// IsValid reports whether the value is a known OutboxDLQErrorReason.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
