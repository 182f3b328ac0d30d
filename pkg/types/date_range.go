package types

import (
	"fmt"
	"time"
)

// DateRange bounds report queries. Zero values mean unbounded on that side.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Validate rejects ranges where the upper bound precedes the lower bound.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return fmt.Errorf("date range end %s precedes start %s", r.To.Format(time.RFC3339), r.From.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside the range, inclusive of bounds.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
