package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Rules      RulesConfig      `json:"rules" yaml:"rules"`
	Ensemble   EnsembleConfig   `json:"ensemble" yaml:"ensemble"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Profiles   ProfilesConfig   `json:"profiles" yaml:"profiles"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type RulesConfig struct {
	AmountMultiplierThreshold float64       `json:"amount_multiplier_threshold" yaml:"amount_multiplier_threshold"`
	RapidExpenseWindow        time.Duration `json:"rapid_expense_window" yaml:"rapid_expense_window"`
	MaxParticipants           int           `json:"max_participants" yaml:"max_participants"`
	BlacklistedMerchants      []string      `json:"blacklisted_merchants" yaml:"blacklisted_merchants"`
	SuspiciousCategories      []string      `json:"suspicious_categories" yaml:"suspicious_categories"`
}

type EnsembleConfig struct {
	MLWeight           float64       `json:"ml_weight" yaml:"ml_weight"`
	RuleWeight         float64       `json:"rule_weight" yaml:"rule_weight"`
	SuspicionThreshold float64       `json:"suspicion_threshold" yaml:"suspicion_threshold"`
	MLTimeout          time.Duration `json:"ml_timeout" yaml:"ml_timeout"`
}

type MonitoringConfig struct {
	Window              time.Duration    `json:"window" yaml:"window"`
	UserWindowCapacity  int              `json:"user_window_capacity" yaml:"user_window_capacity"`
	GroupWindowCapacity int              `json:"group_window_capacity" yaml:"group_window_capacity"`
	MaxTrackedUsers     int              `json:"max_tracked_users" yaml:"max_tracked_users"`
	MaxTrackedGroups    int              `json:"max_tracked_groups" yaml:"max_tracked_groups"`
	Thresholds          SignalThresholds `json:"thresholds" yaml:"thresholds"`
}

type SignalThresholds struct {
	Velocity     float64 `json:"velocity" yaml:"velocity"`
	Pattern      float64 `json:"pattern" yaml:"pattern"`
	Anomaly      float64 `json:"anomaly" yaml:"anomaly"`
	Coordination float64 `json:"coordination" yaml:"coordination"`
	Default      float64 `json:"default" yaml:"default"`
}

type ProfilesConfig struct {
	MaxUsers  int `json:"max_users" yaml:"max_users"`
	MaxGroups int `json:"max_groups" yaml:"max_groups"`
}

type DispatchConfig struct {
	Rules         []NotificationRuleConfig `json:"rules" yaml:"rules"`
	Channels      ChannelsConfig           `json:"channels" yaml:"channels"`
	RetryAttempts int                      `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration            `json:"retry_backoff" yaml:"retry_backoff"`
	RetryMaxDelay time.Duration            `json:"retry_max_delay" yaml:"retry_max_delay"`
	DedupeWindow  time.Duration            `json:"dedupe_window" yaml:"dedupe_window"`
	HistoryLimit  int                      `json:"history_limit" yaml:"history_limit"`
}

type NotificationRuleConfig struct {
	Name              string        `json:"name" yaml:"name"`
	MinRiskScore      *float64      `json:"min_risk_score,omitempty" yaml:"min_risk_score,omitempty"`
	MaxRiskScore      *float64      `json:"max_risk_score,omitempty" yaml:"max_risk_score,omitempty"`
	MinAmount         *float64      `json:"min_amount,omitempty" yaml:"min_amount,omitempty"`
	MaxAmount         *float64      `json:"max_amount,omitempty" yaml:"max_amount,omitempty"`
	SignalType        string        `json:"signal_type,omitempty" yaml:"signal_type,omitempty"`
	SeverityThreshold string        `json:"severity_threshold" yaml:"severity_threshold"`
	Channels          []string      `json:"channels" yaml:"channels"`
	Cooldown          time.Duration `json:"cooldown" yaml:"cooldown"`
	Enabled           bool          `json:"enabled" yaml:"enabled"`
}

type ChannelsConfig struct {
	Webhook WebhookChannelConfig `json:"webhook" yaml:"webhook"`
	Email   EmailChannelConfig   `json:"email" yaml:"email"`
	Slack   SlackChannelConfig   `json:"slack" yaml:"slack"`
	InApp   InAppChannelConfig   `json:"in_app" yaml:"in_app"`
}

type WebhookChannelConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URLs    []string      `json:"urls" yaml:"urls"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type EmailChannelConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	SMTPServer string   `json:"smtp_server" yaml:"smtp_server"`
	SMTPPort   int      `json:"smtp_port" yaml:"smtp_port"`
	Username   string   `json:"username" yaml:"username"`
	Password   string   `json:"password" yaml:"password"`
	Recipients []string `json:"recipients" yaml:"recipients"`
}

type SlackChannelConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Channel    string `json:"channel" yaml:"channel"`
}

type InAppChannelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Limit   int  `json:"limit" yaml:"limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	minRisk := func(v float64) *float64 { return &v }
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Rules: RulesConfig{
			AmountMultiplierThreshold: 5.0,
			RapidExpenseWindow:        15 * time.Minute,
			MaxParticipants:           20,
			BlacklistedMerchants:      nil,
			SuspiciousCategories:      []string{"gambling", "adult"},
		},
		Ensemble: EnsembleConfig{
			MLWeight:           0.7,
			RuleWeight:         0.3,
			SuspicionThreshold: 0.6,
			MLTimeout:          2 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Window:              60 * time.Minute,
			UserWindowCapacity:  100,
			GroupWindowCapacity: 200,
			MaxTrackedUsers:     50000,
			MaxTrackedGroups:    10000,
			Thresholds: SignalThresholds{
				Velocity:     0.8,
				Pattern:      0.7,
				Anomaly:      0.6,
				Coordination: 0.75,
				Default:      0.6,
			},
		},
		Profiles: ProfilesConfig{
			MaxUsers:  50000,
			MaxGroups: 10000,
		},
		Dispatch: DispatchConfig{
			Rules: []NotificationRuleConfig{
				{
					Name:              "critical_fraud",
					MinRiskScore:      minRisk(0.8),
					SeverityThreshold: "CRITICAL",
					Channels:          []string{"webhook", "email"},
					Cooldown:          15 * time.Minute,
					Enabled:           true,
				},
				{
					Name:              "high_risk_transaction",
					MinRiskScore:      minRisk(0.6),
					SeverityThreshold: "HIGH",
					Channels:          []string{"webhook"},
					Cooldown:          30 * time.Minute,
					Enabled:           true,
				},
				{
					Name:              "velocity_alert",
					SignalType:        "velocity",
					SeverityThreshold: "MEDIUM",
					Channels:          []string{"webhook", "in_app"},
					Cooldown:          45 * time.Minute,
					Enabled:           true,
				},
				{
					Name:              "group_coordination_alert",
					SignalType:        "coordination",
					SeverityThreshold: "HIGH",
					Channels:          []string{"webhook", "email"},
					Cooldown:          20 * time.Minute,
					Enabled:           true,
				},
				{
					Name:              "large_amount_alert",
					MinAmount:         minRisk(5000),
					SeverityThreshold: "MEDIUM",
					Channels:          []string{"webhook"},
					Cooldown:          60 * time.Minute,
					Enabled:           true,
				},
			},
			Channels: ChannelsConfig{
				Webhook: WebhookChannelConfig{Enabled: true, Timeout: 10 * time.Second},
				Email:   EmailChannelConfig{Enabled: false, SMTPServer: "smtp.gmail.com", SMTPPort: 587},
				Slack:   SlackChannelConfig{Enabled: false, Channel: "#fraud-alerts"},
				InApp:   InAppChannelConfig{Enabled: true, Limit: 1000},
			},
			RetryAttempts: 3,
			RetryBackoff:  4 * time.Second,
			RetryMaxDelay: 10 * time.Second,
			DedupeWindow:  1 * time.Minute,
			HistoryLimit:  10000,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:splitguard.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Rules.AmountMultiplierThreshold <= 0 {
		cfg.Rules.AmountMultiplierThreshold = def.Rules.AmountMultiplierThreshold
	}
	if cfg.Rules.RapidExpenseWindow <= 0 {
		cfg.Rules.RapidExpenseWindow = def.Rules.RapidExpenseWindow
	}
	if cfg.Rules.MaxParticipants <= 0 {
		cfg.Rules.MaxParticipants = def.Rules.MaxParticipants
	}
	if cfg.Ensemble.MLTimeout <= 0 {
		cfg.Ensemble.MLTimeout = def.Ensemble.MLTimeout
	}
	if cfg.Monitoring.Window <= 0 {
		cfg.Monitoring.Window = def.Monitoring.Window
	}
	if cfg.Monitoring.UserWindowCapacity <= 0 {
		cfg.Monitoring.UserWindowCapacity = def.Monitoring.UserWindowCapacity
	}
	if cfg.Monitoring.GroupWindowCapacity <= 0 {
		cfg.Monitoring.GroupWindowCapacity = def.Monitoring.GroupWindowCapacity
	}
	if cfg.Monitoring.MaxTrackedUsers <= 0 {
		cfg.Monitoring.MaxTrackedUsers = def.Monitoring.MaxTrackedUsers
	}
	if cfg.Monitoring.MaxTrackedGroups <= 0 {
		cfg.Monitoring.MaxTrackedGroups = def.Monitoring.MaxTrackedGroups
	}
	if cfg.Monitoring.Thresholds.Default <= 0 {
		cfg.Monitoring.Thresholds = def.Monitoring.Thresholds
	}
	if cfg.Profiles.MaxUsers <= 0 {
		cfg.Profiles.MaxUsers = def.Profiles.MaxUsers
	}
	if cfg.Profiles.MaxGroups <= 0 {
		cfg.Profiles.MaxGroups = def.Profiles.MaxGroups
	}
	if cfg.Dispatch.RetryAttempts <= 0 {
		cfg.Dispatch.RetryAttempts = def.Dispatch.RetryAttempts
	}
	if cfg.Dispatch.RetryBackoff <= 0 {
		cfg.Dispatch.RetryBackoff = def.Dispatch.RetryBackoff
	}
	if cfg.Dispatch.RetryMaxDelay <= 0 {
		cfg.Dispatch.RetryMaxDelay = def.Dispatch.RetryMaxDelay
	}
	if cfg.Dispatch.HistoryLimit <= 0 {
		cfg.Dispatch.HistoryLimit = def.Dispatch.HistoryLimit
	}
	if len(cfg.Dispatch.Rules) == 0 {
		cfg.Dispatch.Rules = def.Dispatch.Rules
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ensemble.MLWeight < 0 || cfg.Ensemble.MLWeight > 1 {
		return fmt.Errorf("ensemble.ml_weight must be in [0,1], got %v", cfg.Ensemble.MLWeight)
	}
	if cfg.Ensemble.RuleWeight < 0 || cfg.Ensemble.RuleWeight > 1 {
		return fmt.Errorf("ensemble.rule_weight must be in [0,1], got %v", cfg.Ensemble.RuleWeight)
	}
	if cfg.Ensemble.SuspicionThreshold < 0 || cfg.Ensemble.SuspicionThreshold > 1 {
		return fmt.Errorf("ensemble.suspicion_threshold must be in [0,1], got %v", cfg.Ensemble.SuspicionThreshold)
	}
	if cfg.Rules.AmountMultiplierThreshold <= 0 {
		return errors.New("rules.amount_multiplier_threshold must be > 0")
	}
	if cfg.Monitoring.Window <= 0 {
		return errors.New("monitoring.window must be > 0")
	}
	for _, rule := range cfg.Dispatch.Rules {
		if rule.Name == "" {
			return errors.New("dispatch.rules entries require a name")
		}
		if len(rule.Channels) == 0 {
			return fmt.Errorf("dispatch rule %q has no channels", rule.Name)
		}
		if rule.Cooldown < 0 {
			return fmt.Errorf("dispatch rule %q has negative cooldown", rule.Name)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
