package engine

import (
	"fmt"
	"math"

	"splitguard/internal/model"
)

// ValidationError reports why an expense event was rejected before scoring.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expense event: %s %s", e.Field, e.Reason)
}

// Validate checks the structural requirements scoring depends on. Suspicious
// but well-formed values (mismatched splits, future timestamps) are left for
// the rule engine; only events scoring cannot work with are rejected.
func Validate(ev model.ExpenseEvent) error {
	if ev.ID == "" {
		return &ValidationError{Field: "expense_id", Reason: "is required"}
	}
	if ev.PayerID == "" {
		return &ValidationError{Field: "payer_id", Reason: "is required"}
	}
	if ev.GroupID == "" {
		return &ValidationError{Field: "group_id", Reason: "is required"}
	}
	if math.IsNaN(ev.Amount) || math.IsInf(ev.Amount, 0) {
		return &ValidationError{Field: "amount", Reason: "is not a finite number"}
	}
	if ev.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if len(ev.Participants) == 0 {
		return &ValidationError{Field: "participants", Reason: "must not be empty"}
	}
	for i, p := range ev.Participants {
		if p.UserID == "" {
			return &ValidationError{Field: fmt.Sprintf("participants[%d].user_id", i), Reason: "is required"}
		}
	}
	if ev.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}
