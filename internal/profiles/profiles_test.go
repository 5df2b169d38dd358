package profiles

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

var testTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.DefaultConfig().Profiles)
	require.NoError(t, err)
	return s
}

func testExpense(user, group string, amount float64) model.ExpenseEvent {
	return model.ExpenseEvent{
		ID:            "exp-1",
		GroupID:       group,
		PayerID:       user,
		Amount:        amount,
		Currency:      "USD",
		Category:      "dining",
		PaymentMethod: "card",
		Timestamp:     testTime,
	}
}

func TestObserveColdProfiles(t *testing.T) {
	s := newTestStore(t)

	scores := s.Observe(testExpense("user-1", "group-1", 100), testTime)
	assert.InDelta(t, 0.3, scores.UserAmountDeviation, 1e-9)
	assert.InDelta(t, 0.2, scores.UserCategoryFamiliarity, 1e-9)
	assert.InDelta(t, 0.2, scores.UserTimeConsistency, 1e-9)
	assert.InDelta(t, 0, scores.GroupDistrust, 1e-9, "new groups start fully trusted")
	assert.InDelta(t, 0.3, scores.GroupAmountDeviation, 1e-9)
	assert.InDelta(t, 0.4, scores.NewUserRisk, 1e-9)
	assert.InDelta(t, 0.1, scores.VelocityRisk, 1e-9)
}

func TestObserveReadsStateBeforeUpdating(t *testing.T) {
	s := newTestStore(t)

	// First expense is scored against the empty profile, then folded in.
	s.Observe(testExpense("user-1", "group-1", 100), testTime)

	// Second expense in the same category and hour: the profile already
	// knows both, so familiarity and consistency drop to their floors.
	scores := s.Observe(testExpense("user-1", "group-1", 100), testTime)
	assert.InDelta(t, 0.1, scores.UserCategoryFamiliarity, 1e-9)
	assert.InDelta(t, 0.1, scores.UserTimeConsistency, 1e-9)
}

func TestAmountDeviationAfterWarmup(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		s.Observe(testExpense("user-1", "group-1", 100), testTime)
	}

	// avg is 100; a 300 expense deviates by 2x, capped to 1.
	scores := s.Observe(testExpense("user-1", "group-1", 300), testTime)
	assert.InDelta(t, 1.0, scores.UserAmountDeviation, 1e-9)

	// Matching the average scores zero deviation.
	p, ok := s.User("user-1")
	require.True(t, ok)
	scores = s.Observe(testExpense("user-1", "group-1", p.AvgAmount), testTime)
	assert.InDelta(t, 0, scores.UserAmountDeviation, 1e-9)
}

func TestProfileAveragesAreIncremental(t *testing.T) {
	s := newTestStore(t)

	amounts := []float64{100, 200, 300}
	for _, a := range amounts {
		s.Observe(testExpense("user-1", "group-1", a), testTime)
	}

	p, ok := s.User("user-1")
	require.True(t, ok)
	assert.Equal(t, 3, p.TotalExpenses)
	assert.InDelta(t, 200, p.AvgAmount, 1e-9)

	g, ok := s.Group("group-1")
	require.True(t, ok)
	assert.Equal(t, 3, g.TotalExpenses)
	assert.InDelta(t, 200, g.AvgAmount, 1e-9)
}

func TestHistoryBounds(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 30; i++ {
		ev := testExpense("user-1", "group-1", 50)
		ev.Category = fmt.Sprintf("category-%d", i)
		ev.Location = fmt.Sprintf("location-%d", i)
		ev.Timestamp = testTime.Add(time.Duration(i) * time.Hour)
		s.Observe(ev, testTime)
	}

	p, ok := s.User("user-1")
	require.True(t, ok)
	assert.Len(t, p.Categories, 5)
	assert.Len(t, p.UsualHours, 20)
	assert.Len(t, p.Locations, 10)
	assert.Equal(t, "category-29", p.Categories[len(p.Categories)-1])

	g, ok := s.Group("group-1")
	require.True(t, ok)
	assert.Len(t, g.Categories, 5)
}

func TestFraudFeedbackMovesRiskAndTrust(t *testing.T) {
	s := newTestStore(t)

	s.Observe(testExpense("user-1", "group-1", 100), testTime)
	s.RecordFraud("user-1", "group-1", testTime)

	p, ok := s.User("user-1")
	require.True(t, ok)
	assert.InDelta(t, 0.1, p.RiskScore, 1e-9)

	g, ok := s.Group("group-1")
	require.True(t, ok)
	assert.Equal(t, 1, g.RiskIncidents)
	assert.InDelta(t, 0.95, g.TrustScore, 1e-9)

	// Clean traffic slowly pays risk back down and rebuilds trust.
	s.Observe(testExpense("user-1", "group-1", 100), testTime)
	p, _ = s.User("user-1")
	assert.InDelta(t, 0.09, p.RiskScore, 1e-9)
	g, _ = s.Group("group-1")
	assert.InDelta(t, 0.951, g.TrustScore, 1e-9)
}

func TestRiskAndTrustAreClamped(t *testing.T) {
	s := newTestStore(t)
	s.Observe(testExpense("user-1", "group-1", 100), testTime)

	for i := 0; i < 30; i++ {
		s.RecordFraud("user-1", "group-1", testTime)
	}

	p, _ := s.User("user-1")
	assert.InDelta(t, 1.0, p.RiskScore, 1e-9)
	g, _ := s.Group("group-1")
	assert.InDelta(t, 0, g.TrustScore, 1e-9)
}

func TestInsights(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 25; i++ {
		s.Observe(testExpense("user-1", "group-1", 100), testTime)
	}

	ui, ok := s.UserInsightsFor("user-1")
	require.True(t, ok)
	assert.True(t, ui.EstablishedUser)
	assert.Equal(t, "Low", ui.RiskLevel)
	assert.InDelta(t, 100, ui.AverageAmount, 1e-9)

	gi, ok := s.GroupInsightsFor("group-1")
	require.True(t, ok)
	assert.Equal(t, "High", gi.TrustLevel)
	assert.Equal(t, 25, gi.TotalExpenses)

	_, ok = s.UserInsightsFor("nobody")
	assert.False(t, ok)
}

func TestProfilePopulationIsBounded(t *testing.T) {
	cfg := config.ProfilesConfig{MaxUsers: 3, MaxGroups: 2}
	s, err := NewStore(cfg)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ev := testExpense(fmt.Sprintf("user-%d", i), fmt.Sprintf("group-%d", i), 50)
		s.Observe(ev, testTime)
	}
	assert.Equal(t, 3, s.users.Len())
	assert.Equal(t, 2, s.groups.Len())

	// Evicted profiles restart cold.
	_, ok := s.User("user-0")
	assert.False(t, ok)
}
