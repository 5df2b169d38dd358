// Package features turns an expense event into the flat feature set consumed
// by the rule engine and the anomaly provider.
package features

import (
	"math"
	"time"

	"splitguard/internal/model"
)

// Set is a flat feature vector keyed by feature name.
type Set map[string]float64

// Keys shared with the rule engine.
const (
	KeyAmount            = "amount"
	KeyAmountVsGroupMean = "amount_vs_group_mean"
	KeyAmountVsPayerMean = "amount_vs_payer_mean"
	KeyRapidPayerCount   = "rapid_payer_count"
	KeyNumParticipants   = "num_participants"
	KeyHourOfDay         = "hour_of_day"
)

// History carries the rolling statistics the extractor cannot derive from the
// event alone. The engine fills it from the real-time windows before
// extraction; zero values mean "no history".
type History struct {
	GroupMeanAmount   float64
	PayerMeanAmount   float64
	GroupExpenseCount int
	PayerExpenseCount int
	PayerRecent1h     int
	PayerRecent24h    int
	// PayerRapidCount is the number of prior same-payer events inside the
	// configured rapid-expense window.
	PayerRapidCount int
}

// Extractor is a pure transform; it holds no state and is safe for
// concurrent use.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract builds the feature set for one event.
func (x *Extractor) Extract(ev model.ExpenseEvent, hist History) Set {
	fs := Set{
		KeyAmount:    ev.Amount,
		"log_amount": math.Log1p(ev.Amount),
	}

	fs[KeyNumParticipants] = float64(len(ev.Participants))
	if n := len(ev.Participants); n > 0 {
		minAmt := ev.Participants[0].Amount
		maxAmt := ev.Participants[0].Amount
		var sum float64
		for _, p := range ev.Participants {
			sum += p.Amount
			if p.Amount < minAmt {
				minAmt = p.Amount
			}
			if p.Amount > maxAmt {
				maxAmt = p.Amount
			}
		}
		mean := sum / float64(n)
		var variance float64
		if n > 1 {
			for _, p := range ev.Participants {
				d := p.Amount - mean
				variance += d * d
			}
			variance /= float64(n)
		}
		fs["amount_variance"] = variance
		fs["max_participant_amount"] = maxAmt
		fs["min_participant_amount"] = minAmt
	}

	if payerParticipating(ev) {
		fs["payer_not_participating"] = 0
	} else {
		fs["payer_not_participating"] = 1
	}

	ts := ev.Timestamp.UTC()
	fs[KeyHourOfDay] = float64(ts.Hour())
	fs["day_of_week"] = float64(weekdayMonday0(ts))
	fs["is_weekend"] = boolFeature(isWeekend(ts))
	fs["is_late_night"] = boolFeature(ts.Hour() >= 23 || ts.Hour() <= 5)

	fs["currency_is_usd"] = boolFeature(ev.Currency == "USD")

	if hist.GroupMeanAmount > 0 {
		fs[KeyAmountVsGroupMean] = ev.Amount / hist.GroupMeanAmount
	} else {
		fs[KeyAmountVsGroupMean] = 1.0
	}
	if hist.PayerMeanAmount > 0 {
		fs[KeyAmountVsPayerMean] = ev.Amount / hist.PayerMeanAmount
	} else {
		fs[KeyAmountVsPayerMean] = 1.0
	}
	fs["group_expense_frequency"] = float64(hist.GroupExpenseCount)
	fs["payer_expense_frequency"] = float64(hist.PayerExpenseCount)
	fs["recent_expense_count_1h"] = float64(hist.PayerRecent1h)
	fs["recent_expense_count_24h"] = float64(hist.PayerRecent24h)
	fs[KeyRapidPayerCount] = float64(hist.PayerRapidCount)

	return fs
}

// Get returns the named feature or fallback when absent.
func (fs Set) Get(name string, fallback float64) float64 {
	if v, ok := fs[name]; ok {
		return v
	}
	return fallback
}

func payerParticipating(ev model.ExpenseEvent) bool {
	for _, p := range ev.Participants {
		if p.UserID == ev.PayerID {
			return true
		}
	}
	return false
}

// weekdayMonday0 maps Monday to 0 through Sunday to 6.
func weekdayMonday0(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func isWeekend(t time.Time) bool {
	return weekdayMonday0(t) >= 5
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
