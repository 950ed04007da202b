package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"taximeter/internal/config"
)

// schema is applied at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS fare_categories (
		id                     TEXT PRIMARY KEY,
		name                   TEXT NOT NULL UNIQUE,
		basic_fare             NUMERIC(12,4) NOT NULL,
		minimum_fare           NUMERIC(12,4) NOT NULL,
		cost_per_distance_unit NUMERIC(12,4) NOT NULL,
		cost_per_minute        NUMERIC(12,4) NOT NULL,
		decimal_digits         SMALLINT NOT NULL,
		currency_symbol        TEXT NOT NULL,
		distance_unit          TEXT NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL,
		updated_at             TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trips (
		id                   TEXT PRIMARY KEY,
		driver_id            TEXT NOT NULL,
		fare_category_id     TEXT NOT NULL,
		status               TEXT NOT NULL,
		fare_snapshot        JSONB NOT NULL,
		multiplier           NUMERIC(4,2) NOT NULL,
		start_lat            DOUBLE PRECISION NOT NULL DEFAULT 0,
		start_lng            DOUBLE PRECISION NOT NULL DEFAULT 0,
		end_lat              DOUBLE PRECISION NOT NULL DEFAULT 0,
		end_lng              DOUBLE PRECISION NOT NULL DEFAULT 0,
		distance_km          DOUBLE PRECISION NOT NULL DEFAULT 0,
		elapsed_seconds      BIGINT NOT NULL DEFAULT 0,
		basic_fare           NUMERIC(12,4) NOT NULL DEFAULT 0,
		distance_cost        NUMERIC(12,4) NOT NULL DEFAULT 0,
		time_cost            NUMERIC(12,4) NOT NULL DEFAULT 0,
		total_fare           NUMERIC(12,4) NOT NULL DEFAULT 0,
		started_at           TIMESTAMPTZ NOT NULL,
		ended_at             TIMESTAMPTZ,
		paused_at            TIMESTAMPTZ,
		total_paused_seconds BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS trips_one_active_per_driver
		ON trips (driver_id) WHERE status != 'ENDED'`,
}

// NewDatabase creates a new PostgreSQL connection.
// If nrApp is provided, it uses New Relic instrumented driver for automatic SQL tracing.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	driverName := "postgres"
	if nrApp != nil {
		driverName = "nrpostgres"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driverName, err)
	}

	configurePool(db)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// configurePool sizes the pool for a single service replica.
// ConnMaxLifetime stays below typical proxy idle timeouts.
func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
}

// Migrate creates the tables the service needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
