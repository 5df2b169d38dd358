// Package engine wires the scoring pipeline: validation, feature extraction,
// rule checks, the guarded anomaly provider, ensemble fusion, real-time
// monitoring and behavioral profiling, ending in alert dispatch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"splitguard/internal/anomaly"
	"splitguard/internal/config"
	"splitguard/internal/dispatch"
	"splitguard/internal/ensemble"
	"splitguard/internal/features"
	"splitguard/internal/metrics"
	"splitguard/internal/model"
	"splitguard/internal/profiles"
	"splitguard/internal/realtime"
	"splitguard/internal/rules"
	"splitguard/internal/storage"
)

// scoringStack holds the config-derived scoring components so a reload swaps
// them atomically.
type scoringStack struct {
	cfg      *config.Config
	rules    *rules.Engine
	ensemble *ensemble.Scorer
}

// Engine scores expense events. Safe for concurrent use; per-entity state is
// serialized inside the realtime and profile stores.
type Engine struct {
	log        *slog.Logger
	stack      atomic.Value
	extractor  *features.Extractor
	guard      *anomaly.Guard
	realtime   *realtime.Engine
	profiles   *profiles.Store
	dispatcher *dispatch.Dispatcher
	store      storage.Store

	started   time.Time
	processed atomic.Int64
}

func New(cfg *config.Config, scorer anomaly.Scorer, dispatcher *dispatch.Dispatcher, store storage.Store, log *slog.Logger) (*Engine, error) {
	rt, err := realtime.New(cfg.Monitoring)
	if err != nil {
		return nil, fmt.Errorf("realtime engine: %w", err)
	}
	prof, err := profiles.NewStore(cfg.Profiles)
	if err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}
	e := &Engine{
		log:        log,
		extractor:  features.NewExtractor(),
		guard:      anomaly.NewGuard(scorer, cfg.Ensemble.MLTimeout),
		realtime:   rt,
		profiles:   prof,
		dispatcher: dispatcher,
		store:      store,
		started:    time.Now().UTC(),
	}
	e.stack.Store(&scoringStack{
		cfg:      cfg,
		rules:    rules.NewEngine(cfg.Rules),
		ensemble: ensemble.NewScorer(cfg.Ensemble),
	})
	return e, nil
}

// UpdateConfig swaps in rule and ensemble settings from a reloaded config.
// Window and profile capacities are fixed at startup.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.stack.Store(&scoringStack{
		cfg:      cfg,
		rules:    rules.NewEngine(cfg.Rules),
		ensemble: ensemble.NewScorer(cfg.Ensemble),
	})
}

func (e *Engine) current() *scoringStack {
	return e.stack.Load().(*scoringStack)
}

// Realtime exposes the monitoring engine for the ops API.
func (e *Engine) Realtime() *realtime.Engine { return e.realtime }

// Profiles exposes the behavioral profile store for the ops API.
func (e *Engine) Profiles() *profiles.Store { return e.profiles }

// Start consumes events from in until ctx is done. Scoring errors are logged
// and dropped; the loop never stops on a bad event.
func (e *Engine) Start(ctx context.Context, in <-chan model.ExpenseEvent) {
	go func() {
		for {
			select {
			case ev := <-in:
				if _, err := e.Score(ctx, ev); err != nil {
					e.log.Warn("event rejected", "expense_id", ev.ID, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Score runs the full pipeline for one event and returns its verdict. The
// verdict is computed synchronously; notification fanout and persistence run
// after on their own goroutines.
func (e *Engine) Score(ctx context.Context, ev model.ExpenseEvent) (model.RiskVerdict, error) {
	start := time.Now()
	now := start.UTC()
	stack := e.current()

	if err := Validate(ev); err != nil {
		metrics.EventsRejected.Inc()
		return model.RiskVerdict{}, err
	}

	// Profile means feed the feature ratios; read them before this event is
	// folded into either profile.
	userProfile, _ := e.profiles.User(ev.PayerID)
	groupProfile, _ := e.profiles.Group(ev.GroupID)

	obs := e.realtime.Observe(ev, now, stack.cfg.Rules.RapidExpenseWindow)

	fs := e.extractor.Extract(ev, features.History{
		GroupMeanAmount:   groupProfile.AvgAmount,
		PayerMeanAmount:   userProfile.AvgAmount,
		GroupExpenseCount: groupProfile.TotalExpenses,
		PayerExpenseCount: userProfile.TotalExpenses,
		PayerRecent1h:     obs.Pre.PayerRecent1h,
		PayerRecent24h:    obs.Pre.PayerRecent24h,
		PayerRapidCount:   obs.Pre.PayerRapid,
	})

	violations := stack.rules.Check(ev, fs, now)
	ml := e.guard.Score(ctx, fs)
	fusion := stack.ensemble.Fuse(ml.Score, ml.Explanation, violations)
	behavioral := e.profiles.Observe(ev, now)

	verdict := model.RiskVerdict{
		EventID:         ev.ID,
		OverallScore:    fusion.Combined,
		RiskLevel:       model.LevelForScore(fusion.Combined),
		IsSuspicious:    fusion.IsSuspicious,
		MLScore:         fusion.MLScore,
		RuleScore:       fusion.RuleScore,
		BehavioralScore: behavioral.Overall(),
		Violations:      violations,
		Signals:         obs.Signals,
		Explanation:     fusion.Explanation,
		Recommendations: realtime.Recommendations(obs.Signals),
		ModelVersion:    e.guard.Version(),
		Degraded:        ml.Degraded,
		ProcessingTime:  time.Since(start),
		Timestamp:       now,
	}
	if ml.Warning != "" {
		verdict.Warnings = append(verdict.Warnings, ml.Warning)
	}

	e.processed.Add(1)
	metrics.EventsScored.WithLabelValues(string(verdict.RiskLevel)).Inc()
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	if verdict.Degraded {
		metrics.DegradedVerdicts.Inc()
	}
	if verdict.IsSuspicious {
		metrics.SuspiciousVerdicts.Inc()
		e.log.Warn("suspicious expense",
			"expense_id", ev.ID,
			"payer_id", ev.PayerID,
			"group_id", ev.GroupID,
			"score", verdict.OverallScore,
			"risk_level", verdict.RiskLevel,
			"rule_score", verdict.RuleScore,
			"ml_score", verdict.MLScore,
		)
	} else {
		e.log.Debug("expense scored",
			"expense_id", ev.ID,
			"score", verdict.OverallScore,
			"risk_level", verdict.RiskLevel,
		)
	}

	e.raiseAlerts(ev, verdict, obs, now)

	if e.store != nil {
		go func() {
			if err := e.store.SaveVerdict(context.Background(), verdict); err != nil {
				e.log.Error("persist verdict", "expense_id", verdict.EventID, "error", err)
			}
		}()
	}
	return verdict, nil
}

// Feedback applies a confirmed fraud/legitimate label for an already scored
// expense. Only confirmed fraud moves the profiles.
func (e *Engine) Feedback(userID, groupID string, isFraud bool, now time.Time) {
	if !isFraud {
		return
	}
	e.profiles.RecordFraud(userID, groupID, now)
	e.log.Info("fraud feedback recorded", "user_id", userID, "group_id", groupID)
}

// raiseAlerts turns signal threshold crossings and suspicious verdicts into
// alerts and hands them to the dispatcher.
func (e *Engine) raiseAlerts(ev model.ExpenseEvent, verdict model.RiskVerdict, obs realtime.Observation, now time.Time) {
	if e.dispatcher == nil {
		return
	}
	for _, c := range obs.Candidates {
		alert := model.Alert{
			ID:              uuid.NewString(),
			Timestamp:       now,
			Severity:        c.Severity,
			SignalType:      c.Signal,
			Title:           signalTitle(c.Signal),
			Message:         fmt.Sprintf("%s signal scored %.2f (threshold %.2f) for user %s", c.Signal, c.Score, c.Threshold, ev.PayerID),
			UserID:          ev.PayerID,
			GroupID:         ev.GroupID,
			Amount:          ev.Amount,
			RiskScore:       c.Score,
			Recommendations: verdict.Recommendations,
		}
		e.dispatch(alert)
	}

	if verdict.IsSuspicious {
		severity := model.AlertHigh
		if verdict.OverallScore >= 0.8 {
			severity = model.AlertCritical
		}
		alert := model.Alert{
			ID:              uuid.NewString(),
			Timestamp:       now,
			Severity:        severity,
			SignalType:      dominantSignal(verdict.Signals),
			Title:           "Suspicious expense detected",
			Message:         fmt.Sprintf("expense %s scored %.2f (%s) for user %s", ev.ID, verdict.OverallScore, verdict.RiskLevel, ev.PayerID),
			UserID:          ev.PayerID,
			GroupID:         ev.GroupID,
			Amount:          ev.Amount,
			RiskScore:       verdict.OverallScore,
			Recommendations: verdict.Recommendations,
		}
		e.dispatch(alert)
	}
}

func (e *Engine) dispatch(alert model.Alert) {
	// Dispatch must outlive the scoring call; it gets a fresh context.
	e.dispatcher.Dispatch(context.Background(), alert, alert.Timestamp)
	if e.store != nil {
		go func() {
			if err := e.store.SaveAlert(context.Background(), alert); err != nil {
				e.log.Error("persist alert", "alert_id", alert.ID, "error", err)
			}
		}()
	}
}

func signalTitle(signal string) string {
	switch signal {
	case model.SignalVelocity:
		return "High transaction velocity"
	case model.SignalPattern:
		return "Known fraud pattern"
	case model.SignalCoordination:
		return "Coordinated group activity"
	case model.SignalAnomaly:
		return "Behavioral anomaly"
	case model.SignalTemporal:
		return "Unusual transaction timing"
	case model.SignalAmountSuspicion:
		return "Suspicious amount"
	default:
		return "Risk signal threshold crossed"
	}
}

func dominantSignal(s model.RiskSignals) string {
	scores := s.Map()
	best := model.SignalVelocity
	bestScore := -1.0
	for _, name := range []string{
		model.SignalVelocity,
		model.SignalPattern,
		model.SignalCoordination,
		model.SignalAnomaly,
		model.SignalTemporal,
		model.SignalAmountSuspicion,
	} {
		if v := scores[name]; v > bestScore {
			best, bestScore = name, v
		}
	}
	return best
}

// Status is the ops API health summary.
type Status struct {
	Started       time.Time      `json:"started"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Processed     int64          `json:"events_processed"`
	ModelVersion  string         `json:"model_version"`
	Monitoring    realtime.Stats `json:"monitoring"`
}

func (e *Engine) Status() Status {
	now := time.Now().UTC()
	return Status{
		Started:       e.started,
		UptimeSeconds: now.Sub(e.started).Seconds(),
		Processed:     e.processed.Load(),
		ModelVersion:  e.guard.Version(),
		Monitoring:    e.realtime.Stats(),
	}
}
