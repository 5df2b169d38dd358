// Package storage persists verdicts and alerts for offline review. The
// engine treats persistence as best effort; a nil Store disables it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveVerdict(ctx context.Context, verdict model.RiskVerdict) error
	SaveAlert(ctx context.Context, alert model.Alert) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
