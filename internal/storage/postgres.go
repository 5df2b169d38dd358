package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"splitguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/splitguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS verdicts (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			expense_id TEXT NOT NULL,
			overall_score DOUBLE PRECISION NOT NULL,
			risk_level TEXT NOT NULL,
			is_suspicious BOOLEAN NOT NULL,
			ml_score DOUBLE PRECISION NOT NULL,
			rule_score DOUBLE PRECISION NOT NULL,
			behavioral_score DOUBLE PRECISION NOT NULL,
			degraded BOOLEAN NOT NULL,
			model_version TEXT NOT NULL,
			violations_json JSONB NOT NULL,
			signals_json JSONB NOT NULL,
			explanation_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON verdicts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_expense ON verdicts(expense_id)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			user_id TEXT NOT NULL,
			group_id TEXT,
			amount DOUBLE PRECISION NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			recommendations_json JSONB
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

func (s *postgresStore) SaveVerdict(ctx context.Context, v model.RiskVerdict) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verdicts (ts, expense_id, overall_score, risk_level, is_suspicious, ml_score, rule_score, behavioral_score, degraded, model_version, violations_json, signals_json, explanation_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
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

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, severity, signal_type, title, message, user_id, group_id, amount, risk_score, recommendations_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
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
