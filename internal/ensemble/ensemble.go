// Package ensemble fuses the ML anomaly probability and the deterministic
// rule score into a single verdict with a ranked explanation.
package ensemble

import (
	"math"
	"sort"

	"splitguard/internal/config"
	"splitguard/internal/model"
	"splitguard/internal/rules"
)

const (
	corroborationBoost = 1.1
	maxMLContributions = 5
	maxExplanationSize = 10
)

type Scorer struct {
	mlWeight           float64
	ruleWeight         float64
	suspicionThreshold float64
}

// Fusion is the ensemble output for one event.
type Fusion struct {
	Combined     float64
	RuleScore    float64
	MLScore      float64
	IsSuspicious bool
	Explanation  []model.FeatureContribution
}

func NewScorer(cfg config.EnsembleConfig) *Scorer {
	return &Scorer{
		mlWeight:           cfg.MLWeight,
		ruleWeight:         cfg.RuleWeight,
		suspicionThreshold: cfg.SuspicionThreshold,
	}
}

// Fuse combines the two scores: weighted sum, corroboration boost when both
// exceed 0.5, capped at 1.0.
func (s *Scorer) Fuse(mlScore float64, mlExplanation []model.FeatureContribution, violations []model.Violation) Fusion {
	ruleScore := rules.Score(violations)

	combined := s.mlWeight*mlScore + s.ruleWeight*ruleScore
	if mlScore > 0.5 && ruleScore > 0.5 {
		combined = math.Min(1, combined*corroborationBoost)
	}

	return Fusion{
		Combined:     combined,
		RuleScore:    ruleScore,
		MLScore:      mlScore,
		IsSuspicious: combined >= s.suspicionThreshold,
		Explanation:  s.explain(mlExplanation, violations),
	}
}

// explain merges the top ML feature contributions with violations rendered
// as contributions, ranked by absolute magnitude.
func (s *Scorer) explain(mlExplanation []model.FeatureContribution, violations []model.Violation) []model.FeatureContribution {
	out := make([]model.FeatureContribution, 0, len(mlExplanation)+len(violations))

	n := len(mlExplanation)
	if n > maxMLContributions {
		n = maxMLContributions
	}
	out = append(out, mlExplanation[:n]...)

	for _, v := range violations {
		out = append(out, model.FeatureContribution{
			Feature:      "rule_" + v.RuleName,
			Contribution: v.Severity.Weight() * v.Confidence * s.ruleWeight,
			Value:        v.Message,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	if len(out) > maxExplanationSize {
		out = out[:maxExplanationSize]
	}
	return out
}
