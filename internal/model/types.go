package model

import "time"

// Severity classifies a single rule violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Weight returns the scoring weight used when aggregating violations.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.3
	case SeverityMedium:
		return 0.6
	case SeverityHigh:
		return 0.9
	}
	return 0.5
}

// AlertSeverity classifies a dispatched alert.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "INFO"
	AlertLow      AlertSeverity = "LOW"
	AlertMedium   AlertSeverity = "MEDIUM"
	AlertHigh     AlertSeverity = "HIGH"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Ordinal orders severities for threshold comparison.
func (s AlertSeverity) Ordinal() int {
	switch s {
	case AlertInfo:
		return 0
	case AlertLow:
		return 1
	case AlertMedium:
		return 2
	case AlertHigh:
		return 3
	case AlertCritical:
		return 4
	}
	return 0
}

// Participant is one member's share of an expense.
type Participant struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

// ExpenseEvent is a single shared expense submitted for scoring.
// The event is caller-owned; the engine never mutates it.
type ExpenseEvent struct {
	ID            string        `json:"expense_id"`
	GroupID       string        `json:"group_id"`
	PayerID       string        `json:"payer_id"`
	Participants  []Participant `json:"participants"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Merchant      string        `json:"merchant,omitempty"`
	Category      string        `json:"category,omitempty"`
	Location      string        `json:"location,omitempty"`
	Description   string        `json:"description,omitempty"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ParticipantTotal sums the per-participant shares.
func (e ExpenseEvent) ParticipantTotal() float64 {
	var total float64
	for _, p := range e.Participants {
		total += p.Amount
	}
	return total
}

// Violation is a single deterministic rule breach.
type Violation struct {
	RuleName   string   `json:"rule_name"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
}

// Signal names used in alert candidates and notification rule conditions.
const (
	SignalVelocity        = "velocity"
	SignalPattern         = "pattern"
	SignalCoordination    = "coordination"
	SignalAnomaly         = "anomaly"
	SignalTemporal        = "temporal"
	SignalAmountSuspicion = "amount_suspicion"
)

// RiskSignals holds the six real-time monitoring scores, each in [0,1].
type RiskSignals struct {
	Velocity        float64 `json:"velocity"`
	Pattern         float64 `json:"pattern"`
	Coordination    float64 `json:"coordination"`
	Anomaly         float64 `json:"anomaly"`
	Temporal        float64 `json:"temporal"`
	AmountSuspicion float64 `json:"amount_suspicion"`
}

// Overall is the unweighted mean of all six signals.
func (s RiskSignals) Overall() float64 {
	return (s.Velocity + s.Pattern + s.Coordination + s.Anomaly + s.Temporal + s.AmountSuspicion) / 6
}

// Map returns the signals keyed by wire name.
func (s RiskSignals) Map() map[string]float64 {
	return map[string]float64{
		SignalVelocity:        s.Velocity,
		SignalPattern:         s.Pattern,
		SignalCoordination:    s.Coordination,
		SignalAnomaly:         s.Anomaly,
		SignalTemporal:        s.Temporal,
		SignalAmountSuspicion: s.AmountSuspicion,
	}
}

// RiskLevel categorizes an overall score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "Minimal"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// LevelForScore maps a score in [0,1] to its risk level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	case score >= 0.2:
		return RiskLow
	default:
		return RiskMinimal
	}
}

// FeatureContribution is one ranked entry of a verdict explanation.
type FeatureContribution struct {
	Feature      string  `json:"feature_name"`
	Contribution float64 `json:"contribution"`
	Value        any     `json:"value,omitempty"`
}

// RiskVerdict is the fused output of rule, ML and real-time scoring for one
// event. Degraded means at least one sub-signal was defaulted; Warnings
// records which.
type RiskVerdict struct {
	EventID         string                `json:"expense_id"`
	OverallScore    float64               `json:"overall_score"`
	RiskLevel       RiskLevel             `json:"risk_level"`
	IsSuspicious    bool                  `json:"is_suspicious"`
	MLScore         float64               `json:"ml_score"`
	RuleScore       float64               `json:"rule_score"`
	BehavioralScore float64               `json:"behavioral_score"`
	Violations      []Violation           `json:"violations"`
	Signals         RiskSignals           `json:"signals"`
	Explanation     []FeatureContribution `json:"explanation"`
	Recommendations []string              `json:"recommendations,omitempty"`
	ModelVersion    string                `json:"model_version"`
	Degraded        bool                  `json:"degraded"`
	Warnings        []string              `json:"warnings,omitempty"`
	ProcessingTime  time.Duration         `json:"processing_time"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Alert is a dispatched fraud alert. Owned by the dispatcher until an
// external actor acknowledges or resolves it.
type Alert struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Severity        AlertSeverity `json:"severity"`
	SignalType      string        `json:"signal_type"`
	Title           string        `json:"title"`
	Message         string        `json:"message"`
	UserID          string        `json:"user_id"`
	GroupID         string        `json:"group_id,omitempty"`
	Amount          float64       `json:"expense_amount"`
	RiskScore       float64       `json:"risk_score"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Acknowledged    bool          `json:"acknowledged"`
	Resolved        bool          `json:"resolved"`
}

// UserProfile is the online behavioral profile for one user. Histories are
// bounded; the profiles package owns the update rules.
type UserProfile struct {
	UserID         string    `json:"user_id"`
	TotalExpenses  int       `json:"total_expenses"`
	AvgAmount      float64   `json:"avg_amount"`
	Categories     []string  `json:"favorite_categories"`
	UsualHours     []int     `json:"usual_times"`
	Locations      []string  `json:"frequent_locations"`
	PaymentMethods []string  `json:"preferred_payment_methods"`
	RiskScore      float64   `json:"risk_score"`
	LastUpdated    time.Time `json:"last_updated"`
}

// GroupProfile is the online behavioral profile for one group. TrustScore
// starts at 1.0 and moves slowly with fraud feedback.
type GroupProfile struct {
	GroupID       string   `json:"group_id"`
	TotalExpenses int      `json:"total_expenses"`
	AvgAmount     float64  `json:"avg_expense_amount"`
	Categories    []string `json:"common_categories"`
	RiskIncidents int      `json:"risk_incidents"`
	TrustScore    float64  `json:"trust_score"`
}
