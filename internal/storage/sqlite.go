package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"forestwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:forestwatch.db?_pragma=busy_timeout(5000)"
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
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			received_at TEXT NOT NULL,
			node_id TEXT,
			event_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			event_ts INTEGER NOT NULL,
			rssi INTEGER,
			snr REAL,
			extensions_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_received_at ON alerts(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_node_event ON alerts(node_id, event_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (received_at, node_id, event_type, confidence, latitude, longitude, event_ts, rssi, snr, extensions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receivedOrNow(alert),
		alert.NodeID,
		alert.EventType,
		alert.Confidence,
		alert.Latitude,
		alert.Longitude,
		alert.Timestamp,
		nullableInt(alert.RSSI),
		nullableFloat(alert.SNR),
		encodeJSON(alert.Extensions),
	)
	return err
}
