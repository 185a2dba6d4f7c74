package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations contains all database migrations in order.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_rate_limit_tokens",
		SQL: `
			CREATE TABLE IF NOT EXISTS rate_limit_tokens (
				token       VARCHAR(64)  PRIMARY KEY,
				ip_address  VARCHAR(64)  NOT NULL,
				issued_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				expires_at  TIMESTAMPTZ  NOT NULL,
				used        BOOLEAN      NOT NULL DEFAULT FALSE
			);
			CREATE INDEX IF NOT EXISTS idx_rate_limit_tokens_expires_at ON rate_limit_tokens(expires_at);
		`,
	},
	{
		Version: "000002_create_feedback_submissions",
		SQL: `
			CREATE TABLE IF NOT EXISTS feedback_submissions (
				id                   BIGSERIAL    PRIMARY KEY,
				full_name            VARCHAR(255) NOT NULL,
				company_name         VARCHAR(255) NOT NULL,
				sector               VARCHAR(255),
				position             VARCHAR(255),
				email                VARCHAR(320) NOT NULL,
				phone_number         VARCHAR(64),
				satisfaction_overall VARCHAR(32)  NOT NULL DEFAULT '',
				material_usefulness  VARCHAR(32)  NOT NULL DEFAULT '',
				recommend_colleagues VARCHAR(8)   NOT NULL DEFAULT '',
				comments             TEXT         NOT NULL DEFAULT '',
				one_on_one_session   BOOLEAN,
				privacy_consent      BOOLEAN,
				marketing_consent    BOOLEAN,
				created_at           TIMESTAMPTZ  NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_feedback_submissions_created_at ON feedback_submissions(created_at);
		`,
	},
	{
		Version: "000003_create_rate_limit_logs",
		SQL: `
			CREATE TABLE IF NOT EXISTS submission_logs (
				id           BIGSERIAL   PRIMARY KEY,
				ip_address   VARCHAR(64) NOT NULL,
				submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_submission_logs_ip_time ON submission_logs(ip_address, submitted_at DESC);

			CREATE TABLE IF NOT EXISTS download_logs (
				id              BIGSERIAL   PRIMARY KEY,
				ip_address      VARCHAR(64) NOT NULL,
				token_signature VARCHAR(64) NOT NULL,
				downloaded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_download_logs_ip_time ON download_logs(ip_address, downloaded_at);
			CREATE INDEX IF NOT EXISTS idx_download_logs_token_signature ON download_logs(token_signature);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "driver", "postgres")
	return &DB{Pool: pool}, nil
}

// RunMigrations applies pending migrations in order, each in its own
// transaction together with its schema_migrations row.
func (db *DB) RunMigrations(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
