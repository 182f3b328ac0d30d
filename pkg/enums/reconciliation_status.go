package enums

import "fmt"

// ReconciliationStatus tracks durable post-refund bookkeeping tasks.
type ReconciliationStatus string

const (
	ReconciliationStatusPending   ReconciliationStatus = "pending"
	ReconciliationStatusCompleted ReconciliationStatus = "completed"
	ReconciliationStatusAbandoned ReconciliationStatus = "abandoned"
)

var validReconciliationStatuses = []ReconciliationStatus{
	ReconciliationStatusPending,
	ReconciliationStatusCompleted,
	ReconciliationStatusAbandoned,
}

// String implements fmt.Stringer.
func (s ReconciliationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconciliationStatus.
func (s ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReconciliationStatus converts raw input into a ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}
