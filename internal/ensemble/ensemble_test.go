package ensemble

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

func newScorer() *Scorer {
	return NewScorer(config.DefaultConfig().Ensemble)
}

func highViolation(name string, confidence float64) model.Violation {
	return model.Violation{
		RuleName:   name,
		Severity:   model.SeverityHigh,
		Message:    name + " triggered",
		Confidence: confidence,
	}
}

func TestFuseWeightedSum(t *testing.T) {
	s := newScorer()

	f := s.Fuse(0.4, nil, []model.Violation{highViolation("a", 0.3)})
	// rule score = 0.3; no boost since neither side exceeds 0.5.
	assert.InDelta(t, 0.7*0.4+0.3*0.3, f.Combined, 1e-9)
	assert.InDelta(t, 0.3, f.RuleScore, 1e-9)
	assert.InDelta(t, 0.4, f.MLScore, 1e-9)
	assert.False(t, f.IsSuspicious)
}

func TestFuseCorroborationBoost(t *testing.T) {
	s := newScorer()

	f := s.Fuse(0.6, nil, []model.Violation{highViolation("a", 0.6)})
	base := 0.7*0.6 + 0.3*0.6
	assert.InDelta(t, base*1.1, f.Combined, 1e-9)
	assert.True(t, f.IsSuspicious)
}

func TestFuseBoostIsCapped(t *testing.T) {
	s := newScorer()
	f := s.Fuse(1.0, nil, []model.Violation{highViolation("a", 1.0)})
	assert.InDelta(t, 1.0, f.Combined, 1e-9)
}

func TestFuseNoBoostWhenOneSideQuiet(t *testing.T) {
	s := newScorer()
	f := s.Fuse(0.9, nil, nil)
	assert.InDelta(t, 0.63, f.Combined, 1e-9)
	assert.True(t, f.IsSuspicious)
}

func TestSuspicionThresholdIsInclusive(t *testing.T) {
	s := NewScorer(config.EnsembleConfig{MLWeight: 1, RuleWeight: 0, SuspicionThreshold: 0.6})
	assert.True(t, s.Fuse(0.6, nil, nil).IsSuspicious)
	assert.False(t, s.Fuse(0.599, nil, nil).IsSuspicious)
}

func TestExplanationMergesAndRanks(t *testing.T) {
	s := newScorer()

	ml := []model.FeatureContribution{
		{Feature: "amount", Contribution: 0.05},
		{Feature: "hour_of_day", Contribution: -0.4},
	}
	violations := []model.Violation{highViolation("amount_mismatch", 0.9)}

	f := s.Fuse(0.2, ml, violations)
	require.NotEmpty(t, f.Explanation)

	// Ranked by absolute contribution: the ML hour feature (0.4) beats the
	// rule contribution (0.9*0.9*0.3 = 0.243) which beats amount (0.05).
	assert.Equal(t, "hour_of_day", f.Explanation[0].Feature)
	assert.Equal(t, "rule_amount_mismatch", f.Explanation[1].Feature)
	assert.InDelta(t, 0.9*0.9*0.3, f.Explanation[1].Contribution, 1e-9)
	assert.Equal(t, "amount", f.Explanation[2].Feature)
}

func TestExplanationLimits(t *testing.T) {
	s := newScorer()

	// More ML contributions than the top-5 cut.
	ml := make([]model.FeatureContribution, 8)
	for i := range ml {
		ml[i] = model.FeatureContribution{
			Feature:      fmt.Sprintf("f%d", i),
			Contribution: 1.0 - float64(i)*0.1,
		}
	}
	violations := make([]model.Violation, 8)
	for i := range violations {
		violations[i] = highViolation(fmt.Sprintf("r%d", i), 0.9)
	}

	f := s.Fuse(0.2, ml, violations)
	assert.Len(t, f.Explanation, 10)

	mlCount := 0
	for _, c := range f.Explanation {
		if len(c.Feature) >= 5 && c.Feature[:5] == "rule_" {
			continue
		}
		mlCount++
	}
	assert.LessOrEqual(t, mlCount, 5)

	for i := 1; i < len(f.Explanation); i++ {
		assert.GreaterOrEqual(t,
			math.Abs(f.Explanation[i-1].Contribution),
			math.Abs(f.Explanation[i].Contribution))
	}
}
