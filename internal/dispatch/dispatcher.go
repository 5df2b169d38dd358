// Package dispatch turns raised alerts into notifications: rule matching,
// per-rule cooldowns, dedupe, and fanout to delivery channels with retry.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"splitguard/internal/alerts"
	"splitguard/internal/config"
	"splitguard/internal/metrics"
	"splitguard/internal/model"
)

// Rule decides which alerts produce notifications and where they go. Range
// conditions are optional; nil means unconstrained.
type Rule struct {
	Name              string
	MinRiskScore      *float64
	MaxRiskScore      *float64
	MinAmount         *float64
	MaxAmount         *float64
	SignalType        string
	SeverityThreshold model.AlertSeverity
	Channels          []string
	Cooldown          time.Duration
	Enabled           bool
}

// Matches reports whether the alert satisfies the severity gate and every
// configured condition.
func (r Rule) Matches(a model.Alert) bool {
	if !r.Enabled {
		return false
	}
	if a.Severity.Ordinal() < r.SeverityThreshold.Ordinal() {
		return false
	}
	if r.MinRiskScore != nil && a.RiskScore < *r.MinRiskScore {
		return false
	}
	if r.MaxRiskScore != nil && a.RiskScore > *r.MaxRiskScore {
		return false
	}
	if r.MinAmount != nil && a.Amount < *r.MinAmount {
		return false
	}
	if r.MaxAmount != nil && a.Amount > *r.MaxAmount {
		return false
	}
	if r.SignalType != "" && r.SignalType != a.SignalType {
		return false
	}
	return true
}

func rulesFromConfig(cfgs []config.NotificationRuleConfig) []Rule {
	out := make([]Rule, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Rule{
			Name:              c.Name,
			MinRiskScore:      c.MinRiskScore,
			MaxRiskScore:      c.MaxRiskScore,
			MinAmount:         c.MinAmount,
			MaxAmount:         c.MaxAmount,
			SignalType:        c.SignalType,
			SeverityThreshold: model.AlertSeverity(strings.ToUpper(c.SeverityThreshold)),
			Channels:          c.Channels,
			Cooldown:          c.Cooldown,
			Enabled:           c.Enabled,
		})
	}
	return out
}

// Dispatcher owns the alert store, the notification rules and the delivery
// channels. Dispatch is fire-and-forget: sends run on their own goroutines so
// scoring never waits on a slow channel.
type Dispatcher struct {
	log      *slog.Logger
	rules    []Rule
	channels map[string]Channel
	store    *alerts.Store
	cooldown *Cooldown
	dedupe   *DedupeCache
	history  *History

	retryAttempts int
	retryBackoff  time.Duration
	retryMaxDelay time.Duration
	dedupeWindow  time.Duration

	wg sync.WaitGroup
}

func New(cfg config.DispatchConfig, store *alerts.Store, channels map[string]Channel, log *slog.Logger) *Dispatcher {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Dispatcher{
		log:           log,
		rules:         rulesFromConfig(cfg.Rules),
		channels:      channels,
		store:         store,
		cooldown:      NewCooldown(),
		dedupe:        NewDedupeCache(),
		history:       NewHistory(cfg.HistoryLimit),
		retryAttempts: attempts,
		retryBackoff:  cfg.RetryBackoff,
		retryMaxDelay: cfg.RetryMaxDelay,
		dedupeWindow:  cfg.DedupeWindow,
	}
}

// Store exposes the alert store for the ops API.
func (d *Dispatcher) Store() *alerts.Store { return d.store }

// History exposes the delivery history for the ops API.
func (d *Dispatcher) History() *History { return d.history }

// Rules returns the configured notification rules.
func (d *Dispatcher) Rules() []Rule { return append([]Rule(nil), d.rules...) }

// Dispatch records the alert and fans it out to every matching rule's
// channels. Duplicate alerts inside the dedupe window are recorded but not
// re-sent; a rule inside its cooldown stays quiet.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert, now time.Time) {
	d.store.Add(alert)
	metrics.AlertsRaised.WithLabelValues(alert.SignalType, string(alert.Severity)).Inc()

	fingerprint := alert.UserID + "|" + alert.SignalType + "|" + string(alert.Severity)
	if d.dedupeWindow > 0 && d.dedupe.Seen(fingerprint, now, d.dedupeWindow) {
		d.log.Debug("alert deduplicated", "alert_id", alert.ID, "fingerprint", fingerprint)
		return
	}

	for _, rule := range d.rules {
		if !rule.Matches(alert) {
			continue
		}
		if !d.cooldown.Allow(rule.Name, now, rule.Cooldown) {
			d.log.Debug("rule in cooldown", "rule", rule.Name, "alert_id", alert.ID)
			continue
		}
		for _, name := range rule.Channels {
			ch, ok := d.channels[name]
			if !ok {
				d.log.Warn("channel not configured", "rule", rule.Name, "channel", name)
				continue
			}
			d.wg.Add(1)
			go d.deliver(ctx, rule.Name, ch, alert)
		}
	}
}

// deliver sends one alert over one channel with exponential-backoff retry.
// Channel failures are isolated here; they never propagate to the caller.
func (d *Dispatcher) deliver(ctx context.Context, rule string, ch Channel, alert model.Alert) {
	defer d.wg.Done()

	err := d.sendWithRetry(ctx, ch, alert)
	record := Delivery{
		AlertID:  alert.ID,
		Rule:     rule,
		Channel:  ch.Name(),
		Severity: alert.Severity,
		SentAt:   time.Now().UTC(),
		Success:  err == nil,
	}
	if err != nil {
		record.Error = err.Error()
		metrics.Deliveries.WithLabelValues(ch.Name(), "failure").Inc()
		d.log.Error("notification delivery failed",
			"rule", rule, "channel", ch.Name(), "alert_id", alert.ID, "error", err)
	} else {
		metrics.Deliveries.WithLabelValues(ch.Name(), "success").Inc()
	}
	d.history.Record(record)
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, alert model.Alert) error {
	bo := backoff.NewExponentialBackOff()
	if d.retryBackoff > 0 {
		bo.InitialInterval = d.retryBackoff
	}
	if d.retryMaxDelay > 0 {
		bo.MaxInterval = d.retryMaxDelay
	}
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if err := ch.Send(ctx, alert); err != nil {
			return fmt.Errorf("attempt %d: %w", attempt, err)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.retryAttempts-1)), ctx))
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
