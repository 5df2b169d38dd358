// Package anomaly defines the contract for the external anomaly-probability
// provider and the degradation wrapper around it.
package anomaly

import (
	"context"
	"errors"
	"time"

	"splitguard/internal/features"
	"splitguard/internal/model"
)

// Scorer is the external ML capability. Implementations may block on I/O;
// callers bound each call with a context deadline.
type Scorer interface {
	// PredictProbability returns an anomaly probability in [0,1].
	PredictProbability(ctx context.Context, fs features.Set) (float64, error)
	// Explain returns feature contributions ordered by importance.
	Explain(ctx context.Context, fs features.Set) ([]model.FeatureContribution, error)
	// Version identifies the model behind the scorer.
	Version() string
}

// ErrUnavailable signals that no usable model is behind the provider.
var ErrUnavailable = errors.New("anomaly scorer unavailable")

// NullScorer is the absent-provider stand-in: zero probability, no
// explanation. Verdicts produced through it are marked degraded.
type NullScorer struct{}

func (NullScorer) PredictProbability(context.Context, features.Set) (float64, error) {
	return 0, nil
}

func (NullScorer) Explain(context.Context, features.Set) ([]model.FeatureContribution, error) {
	return nil, nil
}

func (NullScorer) Version() string { return "rules_only" }

// Result is the outcome of one guarded provider call.
type Result struct {
	Score       float64
	Explanation []model.FeatureContribution
	Degraded    bool
	Warning     string
}

// Guard bounds provider calls with a timeout and converts failures into a
// degraded result instead of an error.
type Guard struct {
	scorer  Scorer
	timeout time.Duration
}

func NewGuard(scorer Scorer, timeout time.Duration) *Guard {
	if scorer == nil {
		scorer = NullScorer{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Guard{scorer: scorer, timeout: timeout}
}

// Version reports the wrapped scorer's model version.
func (g *Guard) Version() string { return g.scorer.Version() }

// Score calls the provider under the configured deadline. Any provider error
// or timeout yields Score 0 with Degraded set; scoring never fails here.
func (g *Guard) Score(ctx context.Context, fs features.Set) Result {
	if _, isNull := g.scorer.(NullScorer); isNull {
		return Result{Degraded: true, Warning: "anomaly model absent, ml_score defaulted to 0"}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	score, err := g.scorer.PredictProbability(ctx, fs)
	if err != nil {
		return Result{Degraded: true, Warning: "anomaly model failed: " + err.Error()}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	explanation, err := g.scorer.Explain(ctx, fs)
	if err != nil {
		// Probability succeeded, keep it; only the explanation is lost.
		return Result{Score: score, Degraded: true, Warning: "anomaly explanation failed: " + err.Error()}
	}
	return Result{Score: score, Explanation: explanation}
}
