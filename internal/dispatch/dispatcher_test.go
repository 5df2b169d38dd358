package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitguard/internal/alerts"
	"splitguard/internal/config"
	"splitguard/internal/model"
)

var dispatchTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

// fakeChannel records sends and can be told to fail the first n attempts.
type fakeChannel struct {
	mu        sync.Mutex
	name      string
	failFirst int
	attempts  int
	delivered []model.Alert
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failFirst {
		return errors.New("transient failure")
	}
	f.delivered = append(f.delivered, a)
	return nil
}

func (f *fakeChannel) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func floatPtr(v float64) *float64 { return &v }

func testDispatcher(rules []config.NotificationRuleConfig, channels map[string]Channel) *Dispatcher {
	cfg := config.DispatchConfig{
		Rules:         rules,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupeWindow:  time.Minute,
		HistoryLimit:  100,
	}
	return New(cfg, alerts.NewStore(100), channels, testLogger())
}

func highRiskAlert(id string) model.Alert {
	return model.Alert{
		ID:         id,
		Timestamp:  dispatchTime,
		Severity:   model.AlertHigh,
		SignalType: model.SignalVelocity,
		UserID:     "user-1",
		Amount:     250,
		RiskScore:  0.72,
	}
}

func TestRuleMatching(t *testing.T) {
	cases := []struct {
		name  string
		rule  Rule
		alert model.Alert
		want  bool
	}{
		{
			name: "severity below threshold",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertHigh},
			alert: model.Alert{
				Severity: model.AlertMedium, RiskScore: 0.9,
			},
			want: false,
		},
		{
			name: "severity at threshold",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertHigh},
			alert: model.Alert{
				Severity: model.AlertHigh,
			},
			want: true,
		},
		{
			name: "risk below minimum",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertMedium, MinRiskScore: floatPtr(0.8)},
			alert: model.Alert{
				Severity: model.AlertCritical, RiskScore: 0.79,
			},
			want: false,
		},
		{
			name: "risk inside range",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertMedium, MinRiskScore: floatPtr(0.6), MaxRiskScore: floatPtr(0.9)},
			alert: model.Alert{
				Severity: model.AlertHigh, RiskScore: 0.75,
			},
			want: true,
		},
		{
			name: "amount below minimum",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertMedium, MinAmount: floatPtr(5000)},
			alert: model.Alert{
				Severity: model.AlertHigh, Amount: 4999,
			},
			want: false,
		},
		{
			name: "signal type mismatch",
			rule: Rule{Enabled: true, SeverityThreshold: model.AlertMedium, SignalType: model.SignalCoordination},
			alert: model.Alert{
				Severity: model.AlertHigh, SignalType: model.SignalVelocity,
			},
			want: false,
		},
		{
			name: "disabled rule never matches",
			rule: Rule{Enabled: false, SeverityThreshold: model.AlertInfo},
			alert: model.Alert{
				Severity: model.AlertCritical, RiskScore: 1,
			},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rule.Matches(tc.alert))
		})
	}
}

func TestDefaultRulesMatchExpectedAlerts(t *testing.T) {
	rules := rulesFromConfig(config.DefaultConfig().Dispatch.Rules)
	byName := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}

	critical := model.Alert{Severity: model.AlertCritical, SignalType: model.SignalPattern, RiskScore: 0.85, Amount: 100}
	assert.True(t, byName["critical_fraud"].Matches(critical))
	assert.True(t, byName["high_risk_transaction"].Matches(critical))

	velocity := model.Alert{Severity: model.AlertMedium, SignalType: model.SignalVelocity, RiskScore: 0.5, Amount: 100}
	assert.True(t, byName["velocity_alert"].Matches(velocity))
	assert.False(t, byName["group_coordination_alert"].Matches(velocity))

	large := model.Alert{Severity: model.AlertMedium, SignalType: model.SignalAmountSuspicion, RiskScore: 0.45, Amount: 7500}
	assert.True(t, byName["large_amount_alert"].Matches(large))
	assert.False(t, byName["critical_fraud"].Matches(large))
}

func TestDispatchFansOutToMatchingChannels(t *testing.T) {
	webhook := &fakeChannel{name: ChannelWebhook}
	inApp := &fakeChannel{name: ChannelInApp}
	rules := []config.NotificationRuleConfig{{
		Name:              "velocity_alert",
		SignalType:        model.SignalVelocity,
		SeverityThreshold: "MEDIUM",
		Channels:          []string{ChannelWebhook, ChannelInApp},
		Cooldown:          45 * time.Minute,
		Enabled:           true,
	}}
	d := testDispatcher(rules, map[string]Channel{ChannelWebhook: webhook, ChannelInApp: inApp})

	d.Dispatch(context.Background(), highRiskAlert("a-1"), dispatchTime)
	d.Wait()

	assert.Equal(t, 1, webhook.deliveredCount())
	assert.Equal(t, 1, inApp.deliveredCount())
	assert.Equal(t, 1, d.Store().Len())

	stats := d.History().StatsAt(time.Now().UTC())
	assert.Equal(t, 2, stats.Sent24h)
	assert.Equal(t, 0, stats.Failed24h)
}

func TestCooldownIsGlobalPerRule(t *testing.T) {
	webhook := &fakeChannel{name: ChannelWebhook}
	rules := []config.NotificationRuleConfig{{
		Name:              "velocity_alert",
		SignalType:        model.SignalVelocity,
		SeverityThreshold: "MEDIUM",
		Channels:          []string{ChannelWebhook},
		Cooldown:          45 * time.Minute,
		Enabled:           true,
	}}
	d := testDispatcher(rules, map[string]Channel{ChannelWebhook: webhook})

	first := highRiskAlert("a-1")
	d.Dispatch(context.Background(), first, dispatchTime)

	// Different user, same rule, inside the cooldown: suppressed.
	second := highRiskAlert("a-2")
	second.UserID = "user-2"
	d.Dispatch(context.Background(), second, dispatchTime.Add(time.Minute))

	// Past the cooldown the rule fires again.
	third := highRiskAlert("a-3")
	third.UserID = "user-3"
	d.Dispatch(context.Background(), third, dispatchTime.Add(46*time.Minute))

	d.Wait()
	assert.Equal(t, 2, webhook.deliveredCount())
	assert.Equal(t, 3, d.Store().Len(), "suppressed alerts are still recorded")
}

func TestDedupeSuppressesRepeatFingerprints(t *testing.T) {
	webhook := &fakeChannel{name: ChannelWebhook}
	rules := []config.NotificationRuleConfig{{
		Name:              "velocity_alert",
		SignalType:        model.SignalVelocity,
		SeverityThreshold: "MEDIUM",
		Channels:          []string{ChannelWebhook},
		Enabled:           true,
	}}
	d := testDispatcher(rules, map[string]Channel{ChannelWebhook: webhook})

	// Same user, signal and severity within the dedupe window.
	d.Dispatch(context.Background(), highRiskAlert("a-1"), dispatchTime)
	d.Dispatch(context.Background(), highRiskAlert("a-2"), dispatchTime.Add(10*time.Second))
	d.Wait()

	assert.Equal(t, 1, webhook.deliveredCount())
}

func TestDeliveryRetriesTransientFailures(t *testing.T) {
	webhook := &fakeChannel{name: ChannelWebhook, failFirst: 2}
	rules := []config.NotificationRuleConfig{{
		Name:              "velocity_alert",
		SignalType:        model.SignalVelocity,
		SeverityThreshold: "MEDIUM",
		Channels:          []string{ChannelWebhook},
		Enabled:           true,
	}}
	d := testDispatcher(rules, map[string]Channel{ChannelWebhook: webhook})

	d.Dispatch(context.Background(), highRiskAlert("a-1"), dispatchTime)
	d.Wait()

	// Two failures then success on the third and final attempt.
	assert.Equal(t, 1, webhook.deliveredCount())
	stats := d.History().StatsAt(time.Now().UTC())
	assert.Equal(t, 1, stats.Sent24h)
}

func TestChannelFailuresAreIsolated(t *testing.T) {
	broken := &fakeChannel{name: ChannelWebhook, failFirst: 100}
	healthy := &fakeChannel{name: ChannelInApp}
	rules := []config.NotificationRuleConfig{{
		Name:              "velocity_alert",
		SignalType:        model.SignalVelocity,
		SeverityThreshold: "MEDIUM",
		Channels:          []string{ChannelWebhook, ChannelInApp},
		Enabled:           true,
	}}
	d := testDispatcher(rules, map[string]Channel{ChannelWebhook: broken, ChannelInApp: healthy})

	d.Dispatch(context.Background(), highRiskAlert("a-1"), dispatchTime)
	d.Wait()

	assert.Equal(t, 0, broken.deliveredCount())
	assert.Equal(t, 1, healthy.deliveredCount())

	stats := d.History().StatsAt(time.Now().UTC())
	assert.Equal(t, 1, stats.Sent24h)
	assert.Equal(t, 1, stats.Failed24h)

	recent := d.History().Recent(0)
	require.Len(t, recent, 2)
}

func TestInAppChannelInbox(t *testing.T) {
	ch := NewInAppChannel(config.InAppChannelConfig{Enabled: true, Limit: 2})
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, ch.Send(context.Background(), model.Alert{ID: id, UserID: "user-1"}))
	}
	box := ch.Inbox("user-1")
	require.Len(t, box, 2)
	assert.Equal(t, "a-2", box[0].ID)
	assert.Equal(t, "a-3", box[1].ID)
	assert.Empty(t, ch.Inbox("user-2"))
}
