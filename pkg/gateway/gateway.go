package gateway

import (
	"context"
)

// ChargeParams describes a capture request against the payment processor.
type ChargeParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
}

// ChargeResult is the processor's view of a captured payment.
type ChargeResult struct {
	TransactionID string
	Status        string
}

// RefundParams describes a full or partial refund of a captured payment.
type RefundParams struct {
	TransactionID  string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundResult is the processor's view of an issued refund.
type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway abstracts the payment processor so services can be tested against fakes.
type Gateway interface {
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)
	Refund(ctx context.Context, params RefundParams) (*RefundResult, error)
	NewIdempotencyKey(prefix string) string
}
