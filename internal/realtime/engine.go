// Package realtime maintains per-user and per-group sliding windows over
// recent expenses and derives the six monitoring signals from them.
package realtime

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

// Pattern-matching vocabularies for the pattern signal.
var (
	roundAmounts = map[float64]struct{}{
		100: {}, 250: {}, 500: {}, 1000: {}, 2000: {}, 5000: {},
	}
	fraudCategories  = []string{"cash_advance", "gift_cards", "cryptocurrency", "gambling"}
	riskyLocations   = []string{"atm", "casino", "pawn_shop", "gas_station"}
	suspiciousWords  = []string{"cash", "advance", "atm", "withdrawal", "transfer", "urgent", "emergency"}
	amountThresholds = []float64{999, 1999, 2999, 4999, 9999}
)

// Candidate is a signal that crossed its alerting threshold.
type Candidate struct {
	Signal    string
	Score     float64
	Threshold float64
	Severity  model.AlertSeverity
}

// PreStats are per-payer counts taken before the observed event is added to
// its windows, so the rule engine sees only prior activity.
type PreStats struct {
	PayerRecent1h    int
	PayerRecent24h   int
	PayerRapid       int
	PayerWindowCount int
	GroupWindowCount int
	PayerWindowMean  float64
	GroupWindowMean  float64
}

// Observation is the result of feeding one event through the windows.
type Observation struct {
	Pre        PreStats
	Signals    model.RiskSignals
	Candidates []Candidate
}

type entityState struct {
	mu  sync.Mutex
	win *Window
}

// Engine tracks bounded per-entity windows. Entity state is held in LRU maps
// so the tracked population cannot grow without limit; the least recently
// active entity is evicted when the cap is reached.
type Engine struct {
	window     time.Duration
	userCap    int
	groupCap   int
	thresholds config.SignalThresholds

	mu     sync.Mutex
	users  *lru.Cache[string, *entityState]
	groups *lru.Cache[string, *entityState]

	snapshots *SnapshotStore
}

func New(cfg config.MonitoringConfig) (*Engine, error) {
	users, err := lru.New[string, *entityState](cfg.MaxTrackedUsers)
	if err != nil {
		return nil, fmt.Errorf("user state cache: %w", err)
	}
	groups, err := lru.New[string, *entityState](cfg.MaxTrackedGroups)
	if err != nil {
		return nil, fmt.Errorf("group state cache: %w", err)
	}
	return &Engine{
		window:     cfg.Window,
		userCap:    cfg.UserWindowCapacity,
		groupCap:   cfg.GroupWindowCapacity,
		thresholds: cfg.Thresholds,
		users:      users,
		groups:     groups,
		snapshots:  NewSnapshotStore(),
	}, nil
}

// Snapshots exposes the latest per-entity signal snapshots.
func (e *Engine) Snapshots() *SnapshotStore { return e.snapshots }

// Observe runs the event through the payer's and group's windows and returns
// the six signals plus any threshold crossings. The same event observed twice
// advances the windows twice; callers dedupe upstream.
func (e *Engine) Observe(ev model.ExpenseEvent, now time.Time, rapidWindow time.Duration) Observation {
	entry := Entry{
		Timestamp:   ev.Timestamp,
		UserID:      ev.PayerID,
		Amount:      ev.Amount,
		Category:    strings.ToLower(ev.Category),
		Location:    strings.ToLower(ev.Location),
		Description: strings.ToLower(ev.Description),
	}
	cutoff := now.Add(-e.window)

	var obs Observation

	user := e.state(e.users, ev.PayerID, e.userCap)
	user.mu.Lock()
	user.win.Evict(cutoff)
	obs.Pre.PayerWindowCount = user.win.Len()
	if n := user.win.Len(); n > 0 {
		obs.Pre.PayerWindowMean = user.win.TotalAmount() / float64(n)
	}
	obs.Pre.PayerRecent1h = user.win.CountSince(now.Add(-time.Hour))
	obs.Pre.PayerRecent24h = user.win.CountSince(now.Add(-24 * time.Hour))
	obs.Pre.PayerRapid = user.win.CountSince(now.Add(-rapidWindow))
	// Anomaly looks at prior history only; velocity includes the new event.
	obs.Signals.Anomaly = anomalySignal(user.win, entry)
	user.win.Add(entry)
	obs.Signals.Velocity = velocitySignal(user.win, now)
	user.mu.Unlock()

	group := e.state(e.groups, ev.GroupID, e.groupCap)
	group.mu.Lock()
	group.win.Evict(cutoff)
	obs.Pre.GroupWindowCount = group.win.Len()
	if n := group.win.Len(); n > 0 {
		obs.Pre.GroupWindowMean = group.win.TotalAmount() / float64(n)
	}
	group.win.Add(entry)
	obs.Signals.Coordination = coordinationSignal(group.win)
	group.mu.Unlock()

	obs.Signals.Pattern = patternSignal(entry)
	obs.Signals.Temporal = temporalSignal(ev.Timestamp, entry.Category, ev.Amount)
	obs.Signals.AmountSuspicion = amountSignal(ev.Amount)

	obs.Candidates = e.candidates(obs.Signals)
	e.snapshots.Record(ev.PayerID, ev.GroupID, obs.Signals, now)
	return obs
}

func (e *Engine) state(cache *lru.Cache[string, *entityState], key string, capacity int) *entityState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := cache.Get(key); ok {
		return st
	}
	st := &entityState{win: NewWindow(capacity)}
	cache.Add(key, st)
	return st
}

func (e *Engine) candidates(s model.RiskSignals) []Candidate {
	var out []Candidate
	for name, score := range s.Map() {
		threshold := e.threshold(name)
		if score < threshold {
			continue
		}
		severity := model.AlertMedium
		if score >= 0.8 {
			severity = model.AlertHigh
		}
		out = append(out, Candidate{Signal: name, Score: score, Threshold: threshold, Severity: severity})
	}
	return out
}

func (e *Engine) threshold(signal string) float64 {
	switch signal {
	case model.SignalVelocity:
		return e.thresholds.Velocity
	case model.SignalPattern:
		return e.thresholds.Pattern
	case model.SignalAnomaly:
		return e.thresholds.Anomaly
	case model.SignalCoordination:
		return e.thresholds.Coordination
	default:
		return e.thresholds.Default
	}
}

// velocitySignal scores spending velocity over the payer's window, including
// the event just added. A fully collapsed time span is maximal velocity.
func velocitySignal(win *Window, now time.Time) float64 {
	if win.Len() < 2 {
		return 0.1
	}
	oldest, _ := win.Oldest()
	span := now.Sub(oldest.Timestamp).Hours()
	if span <= 0 {
		return 0.9
	}
	frequency := math.Min(1, float64(win.Len())/20)
	amountVelocity := math.Min(1, win.TotalAmount()/(span*1000))
	return (frequency + amountVelocity) / 2
}

// patternSignal scores known fraud indicators on the event itself.
func patternSignal(entry Entry) float64 {
	var score float64
	if _, ok := roundAmounts[entry.Amount]; ok {
		score += 0.3
	}
	if containsAny(entry.Category, fraudCategories) {
		score += 0.4
	}
	if containsAny(entry.Location, riskyLocations) {
		score += 0.3
	}
	if containsAnyWord(entry.Description, suspiciousWords) {
		score += 0.2
	}
	return math.Min(1, score/4)
}

// coordinationSignal looks for synchronized activity in the group window,
// including the event just added.
func coordinationSignal(win *Window) float64 {
	if win.Len() < 2 {
		return 0.1
	}
	last5 := win.Tail(5)

	allSame := true
	for _, e := range last5[1:] {
		if e.Amount != last5[0].Amount {
			allSame = false
			break
		}
	}
	if allSame && len(last5) > 1 {
		return 0.8
	}

	sameCategory := true
	for _, e := range last5[1:] {
		if e.Category != last5[0].Category {
			sameCategory = false
			break
		}
	}
	if sameCategory && len(last5) > 2 {
		return 0.6
	}

	last10 := win.Tail(10)
	if len(last10) > 3 {
		clustered := true
		for i := 1; i < len(last10); i++ {
			if last10[i].Timestamp.Sub(last10[i-1].Timestamp) >= 5*time.Minute {
				clustered = false
				break
			}
		}
		if clustered {
			return 0.7
		}
	}
	return 0.2
}

// anomalySignal compares the event against the payer's prior window entries:
// an amount z-score blended with how unfamiliar the category is.
func anomalySignal(win *Window, entry Entry) float64 {
	history := win.Tail(20)
	if len(history) == 0 {
		return 0.3
	}

	var sum float64
	for _, e := range history {
		sum += e.Amount
	}
	avg := sum / float64(len(history))

	var std float64
	if len(history) > 1 {
		var variance float64
		for _, e := range history {
			d := e.Amount - avg
			variance += d * d
		}
		std = math.Sqrt(variance / float64(len(history)))
	} else {
		std = avg * 0.5
	}
	if std == 0 {
		std = avg * 0.1
	}

	var amountAnomaly float64
	if std > 0 {
		amountAnomaly = math.Min(1, math.Abs(entry.Amount-avg)/std/3)
	}

	categoryCount := 0
	for _, e := range history {
		if e.Category == entry.Category {
			categoryCount++
		}
	}
	categoryAnomaly := 1 - float64(categoryCount)/float64(len(history))

	return (amountAnomaly + categoryAnomaly) / 2
}

// temporalSignal scores time-of-day and day-of-week oddity from the event's
// own timestamp.
func temporalSignal(ts time.Time, category string, amount float64) float64 {
	ts = ts.UTC()
	hour := ts.Hour()
	weekend := ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday

	var score float64
	if hour >= 23 || hour <= 5 {
		score += 0.4
	}
	if !weekend && hour >= 9 && hour <= 17 && containsAny(category, []string{"entertainment", "shopping", "dining"}) {
		score += 0.2
	}
	if weekend && amount > 1000 {
		score += 0.3
	}
	return math.Min(1, score)
}

// amountSignal scores the raw amount; first matching band wins.
func amountSignal(amount float64) float64 {
	if amount >= 100 && math.Mod(amount, 100) == 0 {
		return 0.3
	}
	for _, t := range amountThresholds {
		if amount >= t-50 && amount <= t {
			return 0.5
		}
	}
	switch {
	case amount > 10000:
		return 0.6
	case amount > 5000:
		return 0.4
	case amount <= 1:
		return 0.3
	default:
		return 0.1
	}
}

// Recommendations maps the dominant signals to analyst guidance.
func Recommendations(s model.RiskSignals) []string {
	var out []string
	if s.Velocity > 0.6 {
		out = append(out,
			"Consider implementing transaction velocity limits",
			"Review recent transaction history for this user")
	}
	if s.Pattern > 0.6 {
		out = append(out,
			"Transaction matches known fraud patterns - manual review recommended",
			"Verify transaction details with the user")
	}
	if s.Coordination > 0.7 {
		out = append(out,
			"Potential coordinated activity detected in group",
			"Review all recent group transactions")
	}
	if s.Anomaly > 0.6 {
		out = append(out,
			"Transaction deviates from user's normal behavior",
			"Consider additional identity verification")
	}
	if len(out) == 0 {
		out = append(out, "Transaction appears normal - continue monitoring")
	}
	return out
}

// Stats summarizes the currently tracked population.
type Stats struct {
	TrackedUsers  int `json:"tracked_users"`
	TrackedGroups int `json:"tracked_groups"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		TrackedUsers:  e.users.Len(),
		TrackedGroups: e.groups.Len(),
	}
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func containsAnyWord(s string, words []string) bool {
	if s == "" {
		return false
	}
	for _, f := range strings.Fields(s) {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}
