package profiles

import (
	"math"
	"time"
)

// UserInsights is the analyst-facing summary of one user profile.
type UserInsights struct {
	UserID             string    `json:"user_id"`
	TotalExpenses      int       `json:"total_expenses"`
	AverageAmount      float64   `json:"average_amount"`
	FavoriteCategories []string  `json:"favorite_categories"`
	RiskLevel          string    `json:"risk_level"`
	EstablishedUser    bool      `json:"established_user"`
	LastUpdated        time.Time `json:"last_updated"`
}

// GroupInsights is the analyst-facing summary of one group profile.
type GroupInsights struct {
	GroupID          string   `json:"group_id"`
	TotalExpenses    int      `json:"total_expenses"`
	AverageExpense   float64  `json:"average_expense"`
	CommonCategories []string `json:"common_categories"`
	TrustScore       float64  `json:"trust_score"`
	RiskIncidents    int      `json:"risk_incidents"`
	TrustLevel       string   `json:"trust_level"`
}

// UserInsightsFor summarizes the named user's profile.
func (s *Store) UserInsightsFor(id string) (UserInsights, bool) {
	p, ok := s.User(id)
	if !ok {
		return UserInsights{}, false
	}
	return UserInsights{
		UserID:             p.UserID,
		TotalExpenses:      p.TotalExpenses,
		AverageAmount:      round2(p.AvgAmount),
		FavoriteCategories: p.Categories,
		RiskLevel:          userRiskLevel(p.RiskScore),
		EstablishedUser:    p.TotalExpenses > 20,
		LastUpdated:        p.LastUpdated,
	}, true
}

// GroupInsightsFor summarizes the named group's profile.
func (s *Store) GroupInsightsFor(id string) (GroupInsights, bool) {
	g, ok := s.Group(id)
	if !ok {
		return GroupInsights{}, false
	}
	return GroupInsights{
		GroupID:          g.GroupID,
		TotalExpenses:    g.TotalExpenses,
		AverageExpense:   round2(g.AvgAmount),
		CommonCategories: g.Categories,
		TrustScore:       round3(g.TrustScore),
		RiskIncidents:    g.RiskIncidents,
		TrustLevel:       trustLevel(g.TrustScore),
	}, true
}

func userRiskLevel(score float64) string {
	switch {
	case score > 0.6:
		return "High"
	case score > 0.3:
		return "Medium"
	default:
		return "Low"
	}
}

func trustLevel(score float64) string {
	switch {
	case score > 0.8:
		return "High"
	case score > 0.5:
		return "Medium"
	default:
		return "Low"
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
