// Package database provides PostgreSQL connection management and schema
// bootstrap for the verifier service.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int
	ConnMaxIdleTime time.Duration
}

// Open constructs a connection pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS verification_sessions (
		id UUID PRIMARY KEY,
		verification_id VARCHAR(255) NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'processing',
		stage VARCHAR(50) NOT NULL DEFAULT 'queued',
		progress FLOAT NOT NULL DEFAULT 0.0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		initial_data JSONB,
		results JSONB,
		error TEXT,
		warnings JSONB,
		embedding JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_verification_id
		ON verification_sessions(verification_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status
		ON verification_sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created_at
		ON verification_sessions(created_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		wallet_address VARCHAR(255) PRIMARY KEY,
		username VARCHAR(255),
		total_points BIGINT NOT NULL DEFAULT 0,
		total_submissions INTEGER NOT NULL DEFAULT 0,
		average_rarity_score FLOAT NOT NULL DEFAULT 0,
		tier VARCHAR(50) NOT NULL DEFAULT 'Contributor',
		rank INTEGER,
		first_bulk_contributions INTEGER NOT NULL DEFAULT 0,
		rare_subject_contributions INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_total_points
		ON users(total_points DESC)`,
	`CREATE TABLE IF NOT EXISTS submission_records (
		session_id UUID PRIMARY KEY,
		wallet_address VARCHAR(255) NOT NULL,
		points BIGINT NOT NULL,
		rarity_score INTEGER NOT NULL,
		multipliers JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submission_records_wallet
		ON submission_records(wallet_address)`,
}

// EnsureSchema creates the verifier tables and indexes when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
