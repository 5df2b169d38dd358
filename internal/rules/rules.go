// Package rules implements the deterministic fraud checks. The engine is
// stateless: every check sees only the event, its derived features, and the
// clock value supplied by the caller.
package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"splitguard/internal/config"
	"splitguard/internal/features"
	"splitguard/internal/model"
)

const participantSumTolerance = 0.01

type Engine struct {
	amountMultiplier     float64
	rapidWindow          time.Duration
	maxParticipants      int
	blacklistedMerchants map[string]struct{}
	suspiciousCategories map[string]struct{}
}

func NewEngine(cfg config.RulesConfig) *Engine {
	return &Engine{
		amountMultiplier:     cfg.AmountMultiplierThreshold,
		rapidWindow:          cfg.RapidExpenseWindow,
		maxParticipants:      cfg.MaxParticipants,
		blacklistedMerchants: lowerSet(cfg.BlacklistedMerchants),
		suspiciousCategories: lowerSet(cfg.SuspiciousCategories),
	}
}

// Check runs every rule against the event and returns the violations found.
// now anchors the future-timestamp check so scoring stays deterministic.
func (e *Engine) Check(ev model.ExpenseEvent, fs features.Set, now time.Time) []model.Violation {
	var out []model.Violation
	out = append(out, e.checkExcessiveAmount(fs)...)
	out = append(out, e.checkParticipantMismatch(ev)...)
	out = append(out, e.checkBlacklistedEntities(ev)...)
	out = append(out, e.checkRapidExpenses(fs)...)
	out = append(out, e.checkTimePatterns(ev, now)...)
	out = append(out, e.checkParticipantCount(ev)...)
	out = append(out, e.checkPayerParticipation(ev)...)
	out = append(out, e.checkAmountPrecision(ev)...)
	return out
}

// Score aggregates violations into a single rule score in [0,1]: the
// confidence-weighted severity sum normalized by the severity weight sum of
// the triggered rules.
func Score(violations []model.Violation) float64 {
	if len(violations) == 0 {
		return 0
	}
	var total, maxPossible float64
	for _, v := range violations {
		w := v.Severity.Weight()
		total += w * v.Confidence
		maxPossible += w
	}
	if maxPossible <= 0 {
		return 0
	}
	return math.Min(1, total/maxPossible)
}

func (e *Engine) checkExcessiveAmount(fs features.Set) []model.Violation {
	ratio := fs.Get(features.KeyAmountVsGroupMean, 1.0)
	if ratio <= e.amountMultiplier {
		return nil
	}
	severity := model.SeverityMedium
	if ratio > e.amountMultiplier*2 {
		severity = model.SeverityHigh
	}
	return []model.Violation{{
		RuleName:   "excessive_amount",
		Severity:   severity,
		Message:    fmt.Sprintf("expense amount is %.1fx higher than group average", ratio),
		Confidence: math.Min(0.9, ratio/(e.amountMultiplier*2)),
	}}
}

func (e *Engine) checkParticipantMismatch(ev model.ExpenseEvent) []model.Violation {
	var out []model.Violation

	total := ev.ParticipantTotal()
	if math.Abs(total-ev.Amount) > participantSumTolerance {
		out = append(out, model.Violation{
			RuleName:   "amount_mismatch",
			Severity:   model.SeverityHigh,
			Message:    fmt.Sprintf("participant amounts (%.2f) don't match total (%.2f)", total, ev.Amount),
			Confidence: 0.95,
		})
	}

	seen := make(map[string]struct{}, len(ev.Participants))
	duplicate := false
	for _, p := range ev.Participants {
		if _, ok := seen[p.UserID]; ok {
			duplicate = true
			break
		}
		seen[p.UserID] = struct{}{}
	}
	if duplicate {
		out = append(out, model.Violation{
			RuleName:   "duplicate_participants",
			Severity:   model.SeverityMedium,
			Message:    "duplicate participants found in expense",
			Confidence: 0.9,
		})
	}
	return out
}

func (e *Engine) checkBlacklistedEntities(ev model.ExpenseEvent) []model.Violation {
	var out []model.Violation
	if ev.Merchant != "" {
		if _, ok := e.blacklistedMerchants[strings.ToLower(ev.Merchant)]; ok {
			out = append(out, model.Violation{
				RuleName:   "blacklisted_merchant",
				Severity:   model.SeverityHigh,
				Message:    fmt.Sprintf("transaction with blacklisted merchant: %s", ev.Merchant),
				Confidence: 0.95,
			})
		}
	}
	if ev.Category != "" {
		if _, ok := e.suspiciousCategories[strings.ToLower(ev.Category)]; ok {
			out = append(out, model.Violation{
				RuleName:   "suspicious_category",
				Severity:   model.SeverityMedium,
				Message:    fmt.Sprintf("transaction in suspicious category: %s", ev.Category),
				Confidence: 0.8,
			})
		}
	}
	return out
}

func (e *Engine) checkRapidExpenses(fs features.Set) []model.Violation {
	count := int(fs.Get(features.KeyRapidPayerCount, 0))
	minutes := int(e.rapidWindow.Minutes())
	switch {
	case count >= 3:
		return []model.Violation{{
			RuleName:   "rapid_expenses",
			Severity:   model.SeverityHigh,
			Message:    fmt.Sprintf("%d expenses from same payer in %d minutes", count, minutes),
			Confidence: 0.8,
		}}
	case count >= 2:
		return []model.Violation{{
			RuleName:   "rapid_expenses",
			Severity:   model.SeverityMedium,
			Message:    fmt.Sprintf("%d expenses from same payer in %d minutes", count, minutes),
			Confidence: 0.6,
		}}
	}
	return nil
}

func (e *Engine) checkTimePatterns(ev model.ExpenseEvent, now time.Time) []model.Violation {
	var out []model.Violation
	hour := ev.Timestamp.UTC().Hour()
	if hour >= 2 && hour <= 5 {
		out = append(out, model.Violation{
			RuleName:   "unusual_time",
			Severity:   model.SeverityLow,
			Message:    fmt.Sprintf("transaction at unusual hour: %d:00", hour),
			Confidence: 0.4,
		})
	}
	if ev.Timestamp.After(now.Add(time.Hour)) {
		out = append(out, model.Violation{
			RuleName:   "future_timestamp",
			Severity:   model.SeverityHigh,
			Message:    "transaction timestamp is in the future",
			Confidence: 0.9,
		})
	}
	return out
}

func (e *Engine) checkParticipantCount(ev model.ExpenseEvent) []model.Violation {
	if len(ev.Participants) <= e.maxParticipants {
		return nil
	}
	return []model.Violation{{
		RuleName:   "excessive_participants",
		Severity:   model.SeverityMedium,
		Message:    fmt.Sprintf("unusually high participant count: %d", len(ev.Participants)),
		Confidence: 0.7,
	}}
}

func (e *Engine) checkPayerParticipation(ev model.ExpenseEvent) []model.Violation {
	for _, p := range ev.Participants {
		if p.UserID == ev.PayerID {
			return nil
		}
	}
	return []model.Violation{{
		RuleName:   "payer_not_participating",
		Severity:   model.SeverityMedium,
		Message:    "payer is not listed as a participant",
		Confidence: 0.6,
	}}
}

func (e *Engine) checkAmountPrecision(ev model.ExpenseEvent) []model.Violation {
	var out []model.Violation
	if ev.Amount >= 100 && ev.Amount == math.Trunc(ev.Amount) {
		out = append(out, model.Violation{
			RuleName:   "round_amount",
			Severity:   model.SeverityLow,
			Message:    fmt.Sprintf("suspiciously round amount: $%.0f", ev.Amount),
			Confidence: 0.3,
		})
	}
	if hasSubCentPrecision(ev.Amount) {
		out = append(out, model.Violation{
			RuleName:   "precise_amount",
			Severity:   model.SeverityLow,
			Message:    fmt.Sprintf("unusually precise amount: $%v", ev.Amount),
			Confidence: 0.25,
		})
	}
	return out
}

// hasSubCentPrecision reports whether the amount carries more than two
// decimal places, allowing for float representation noise.
func hasSubCentPrecision(amount float64) bool {
	cents := amount * 100
	return math.Abs(cents-math.Round(cents)) > 1e-6
}

func lowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out[v] = struct{}{}
	}
	return out
}
