package enums

import "fmt"

// AdjustmentType distinguishes what triggered a revenue correction.
type AdjustmentType string

const (
	AdjustmentTypeRefund     AdjustmentType = "refund"
	AdjustmentTypeChargeback AdjustmentType = "chargeback"
)

var validAdjustmentTypes = []AdjustmentType{
	AdjustmentTypeRefund,
	AdjustmentTypeChargeback,
}

// String implements fmt.Stringer.
func (t AdjustmentType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known AdjustmentType.
func (t AdjustmentType) IsValid() bool {
	for _, candidate := range validAdjustmentTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAdjustmentType converts raw input into an AdjustmentType.
func ParseAdjustmentType(value string) (AdjustmentType, error) {
	for _, candidate := range validAdjustmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment type %q", value)
}

// AdjustmentStatus tracks the lifecycle of a revenue adjustment. The reversed
// state exists in the enum but currently has no trigger.
type AdjustmentStatus string

const (
	AdjustmentStatusPending   AdjustmentStatus = "pending"
	AdjustmentStatusProcessed AdjustmentStatus = "processed"
	AdjustmentStatusReversed  AdjustmentStatus = "reversed"
)

var validAdjustmentStatuses = []AdjustmentStatus{
	AdjustmentStatusPending,
	AdjustmentStatusProcessed,
	AdjustmentStatusReversed,
}

// String implements fmt.Stringer.
func (s AdjustmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AdjustmentStatus.
func (s AdjustmentStatus) IsValid() bool {
	for _, candidate := range validAdjustmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
