package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"splitguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:splitguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			expense_id TEXT NOT NULL,
			overall_score REAL NOT NULL,
			risk_level TEXT NOT NULL,
			is_suspicious INTEGER NOT NULL,
			ml_score REAL NOT NULL,
			rule_score REAL NOT NULL,
			behavioral_score REAL NOT NULL,
			degraded INTEGER NOT NULL,
			model_version TEXT NOT NULL,
			violations_json TEXT NOT NULL,
			signals_json TEXT NOT NULL,
			explanation_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON verdicts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_expense ON verdicts(expense_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			severity TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			user_id TEXT NOT NULL,
			group_id TEXT,
			amount REAL NOT NULL,
			risk_score REAL NOT NULL,
			recommendations_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveVerdict(ctx context.Context, v model.RiskVerdict) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (ts, expense_id, overall_score, risk_level, is_suspicious, ml_score, rule_score, behavioral_score, degraded, model_version, violations_json, signals_json, explanation_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.Timestamp.UTC(),
		v.EventID,
		v.OverallScore,
		string(v.RiskLevel),
		v.IsSuspicious,
		v.MLScore,
		v.RuleScore,
		v.BehavioralScore,
		v.Degraded,
		v.ModelVersion,
		encodeJSON(v.Violations),
		encodeJSON(v.Signals),
		encodeJSON(v.Explanation),
	)
	return err
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (id, ts, severity, signal_type, title, message, user_id, group_id, amount, risk_score, recommendations_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Timestamp.UTC(),
		string(alert.Severity),
		alert.SignalType,
		alert.Title,
		alert.Message,
		alert.UserID,
		alert.GroupID,
		alert.Amount,
		alert.RiskScore,
		encodeJSON(alert.Recommendations),
	)
	return err
}
