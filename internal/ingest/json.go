package ingest

import (
	"encoding/json"
	"time"

	"splitguard/internal/model"
)

// DecodeExpense parses one expense event from JSON and fills the defaults the
// wire format allows to be omitted.
func DecodeExpense(data []byte, now time.Time) (model.ExpenseEvent, error) {
	var ev model.ExpenseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.ExpenseEvent{}, err
	}
	applyDefaults(&ev, now)
	return ev, nil
}

// DecodeExpenseBatch parses either a single JSON object or a JSON array of
// expense events.
func DecodeExpenseBatch(data []byte, now time.Time) ([]model.ExpenseEvent, error) {
	trimmed := trimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.ExpenseEvent
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		for i := range list {
			applyDefaults(&list[i], now)
		}
		return list, nil
	}
	ev, err := DecodeExpense(trimmed, now)
	if err != nil {
		return nil, err
	}
	return []model.ExpenseEvent{ev}, nil
}

func applyDefaults(ev *model.ExpenseEvent, now time.Time) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\n' || b[start] == '\r' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\n' || b[end-1] == '\r' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
