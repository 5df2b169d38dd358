package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"splitguard/internal/features"
	"splitguard/internal/model"
)

type stubScorer struct {
	score      float64
	err        error
	explainErr error
	delay      time.Duration
}

func (s *stubScorer) PredictProbability(ctx context.Context, _ features.Set) (float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.score, s.err
}

func (s *stubScorer) Explain(context.Context, features.Set) ([]model.FeatureContribution, error) {
	if s.explainErr != nil {
		return nil, s.explainErr
	}
	return []model.FeatureContribution{{Feature: "amount", Contribution: 0.5}}, nil
}

func (s *stubScorer) Version() string { return "stub-1" }

func TestGuardWithoutProviderIsDegraded(t *testing.T) {
	g := NewGuard(nil, time.Second)

	res := g.Score(context.Background(), features.Set{})
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, "rules_only", g.Version())
}

func TestGuardHealthyProvider(t *testing.T) {
	g := NewGuard(&stubScorer{score: 0.7}, time.Second)

	res := g.Score(context.Background(), features.Set{})
	assert.False(t, res.Degraded)
	assert.InDelta(t, 0.7, res.Score, 1e-9)
	assert.Len(t, res.Explanation, 1)
	assert.Equal(t, "stub-1", g.Version())
}

func TestGuardClampsScore(t *testing.T) {
	g := NewGuard(&stubScorer{score: 1.7}, time.Second)
	res := g.Score(context.Background(), features.Set{})
	assert.InDelta(t, 1.0, res.Score, 1e-9)

	g = NewGuard(&stubScorer{score: -0.2}, time.Second)
	res = g.Score(context.Background(), features.Set{})
	assert.Zero(t, res.Score)
}

func TestGuardProviderError(t *testing.T) {
	g := NewGuard(&stubScorer{err: errors.New("model offline")}, time.Second)

	res := g.Score(context.Background(), features.Set{})
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
	assert.Contains(t, res.Warning, "model offline")
}

func TestGuardTimeout(t *testing.T) {
	g := NewGuard(&stubScorer{score: 0.9, delay: 200 * time.Millisecond}, 10*time.Millisecond)

	res := g.Score(context.Background(), features.Set{})
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Score)
}

func TestGuardExplainFailureKeepsScore(t *testing.T) {
	g := NewGuard(&stubScorer{score: 0.8, explainErr: errors.New("shap backend down")}, time.Second)

	res := g.Score(context.Background(), features.Set{})
	assert.True(t, res.Degraded)
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Empty(t, res.Explanation)
	assert.Contains(t, res.Warning, "explanation failed")
}
