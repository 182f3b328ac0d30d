package enums

import "fmt"

// PointsTransactionType classifies entries in a customer points ledger.
// refund_credit is the promotional credit granted on refunds at the fixed
// 1:10 rate; refund marks points returned from a cancelled redemption.
type PointsTransactionType string

const (
	PointsTransactionEarned       PointsTransactionType = "earned"
	PointsTransactionUsed         PointsTransactionType = "used"
	PointsTransactionExpired      PointsTransactionType = "expired"
	PointsTransactionRefundCredit PointsTransactionType = "refund_credit"
	PointsTransactionRefund       PointsTransactionType = "refund"
)

var validPointsTransactionTypes = []PointsTransactionType{
	PointsTransactionEarned,
	PointsTransactionUsed,
	PointsTransactionExpired,
	PointsTransactionRefundCredit,
	PointsTransactionRefund,
}

// String implements fmt.Stringer.
func (t PointsTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known PointsTransactionType.
func (t PointsTransactionType) IsValid() bool {
	for _, candidate := range validPointsTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Credits reports whether the transaction type increases available points.
func (t PointsTransactionType) Credits() bool {
	switch t {
	case PointsTransactionEarned, PointsTransactionRefundCredit, PointsTransactionRefund:
		return true
	default:
		return false
	}
}

// ParsePointsTransactionType converts raw input into a PointsTransactionType.
func ParsePointsTransactionType(value string) (PointsTransactionType, error) {
	for _, candidate := range validPointsTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid points transaction type %q", value)
}
