package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/openloom/llmgate/pkg/types"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings. A non-empty DSN
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "llmgate",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the usage tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		principal_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		remote_model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		tokens_used BIGINT NOT NULL DEFAULT 0,
		request_kind TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_records_principal
		ON usage_records (principal_id, created_at);

	CREATE TABLE IF NOT EXISTS principal_balances (
		principal_id TEXT PRIMARY KEY,
		tokens_remaining BIGINT NOT NULL,
		tokens_used BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// AppendUsage durably inserts one usage record.
func (s *PostgresStore) AppendUsage(ctx context.Context, record *types.UsageRecord) error {
	const query = `
		INSERT INTO usage_records (id, principal_id, provider, model, remote_model,
			prompt_tokens, completion_tokens, tokens_used, request_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.PrincipalID, record.Provider, record.Model, record.RemoteModel,
		record.PromptTokens, record.CompletionTokens, record.TokensUsed,
		string(record.RequestKind), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// SaveBalance upserts the principal's balance snapshot.
func (s *PostgresStore) SaveBalance(ctx context.Context, principalID string, remaining, used int64) error {
	const query = `
		INSERT INTO principal_balances (principal_id, tokens_remaining, tokens_used, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (principal_id) DO UPDATE SET
			tokens_remaining = EXCLUDED.tokens_remaining,
			tokens_used = EXCLUDED.tokens_used,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, principalID, remaining, used); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
