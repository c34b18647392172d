// Package database persists KPI running totals to Postgres so they
// survive a restart: one fixed migration, one table, upsert on write.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// PostgresSink implements pkg/kpi.Sink by upserting each counter's
// running total into a kpi_counters table keyed by name.
type PostgresSink struct {
	conn *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS kpi_counters (
	kpi_name   VARCHAR(255) PRIMARY KEY,
	value      BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

const upsertCounter = `
INSERT INTO kpi_counters (kpi_name, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (kpi_name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at;
`

// NewPostgresSink opens a connection, runs the one fixed migration,
// and returns a ready-to-use sink.
func NewPostgresSink(cfg Config) (*PostgresSink, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec(createTable); err != nil {
		return nil, fmt.Errorf("failed to create kpi_counters table: %w", err)
	}

	return &PostgresSink{conn: conn}, nil
}

// StoreKPI implements pkg/kpi.Sink. Write failures are swallowed — the
// core's in-memory counters never depend on this sink succeeding.
func (s *PostgresSink) StoreKPI(name string, value int64, ts time.Time) {
	_, _ = s.conn.Exec(upsertCounter, name, value, ts)
}

// RegisterKPI implements pkg/kpi.Sink. PostgresSink has nothing to
// declare at registration time; it only persists values StoreKPI
// hands it.
func (s *PostgresSink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
}

// Close closes the underlying connection.
func (s *PostgresSink) Close() error {
	return s.conn.Close()
}
