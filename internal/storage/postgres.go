package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"forestwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/forestwatch?sslmode=disable"
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
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL,
			node_id TEXT,
			event_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			event_ts BIGINT NOT NULL,
			rssi INTEGER,
			snr DOUBLE PRECISION,
			extensions_json JSONB
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

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (received_at, node_id, event_type, confidence, latitude, longitude, event_ts, rssi, snr, extensions_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
