package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore provides durable idempotency enforcement that survives
// process restarts. Insert-if-absent runs as a single statement so two
// concurrent writers cannot both claim a key.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore creates a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
	tenant_id   TEXT NOT NULL,
	command     TEXT NOT NULL,
	request_key TEXT NOT NULL,
	result      BYTEA NOT NULL,
	stored_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (tenant_id, command, request_key)
);
`

// Init creates the idempotency table if missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	var (
		result   []byte
		storedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT result, stored_at FROM idempotency_records
		 WHERE tenant_id = $1 AND command = $2 AND request_key = $3`,
		key.TenantID.String(), key.Command, key.RequestKey,
	).Scan(&result, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency get: %w", err)
	}
	if s.ttl > 0 && time.Since(storedAt) > s.ttl {
		return nil, false, nil
	}
	return result, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, value []byte) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	// Insert-if-absent; losers read back the winner's record.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_records (tenant_id, command, request_key, result)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, command, request_key) DO NOTHING`,
		key.TenantID.String(), key.Command, key.RequestKey, value,
	)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency put: rows affected: %w", err)
	}
	if n == 1 {
		return value, true, nil
	}

	stored, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Winner's record expired between insert attempt and read.
		return nil, false, fmt.Errorf("idempotency put: lost race but record is gone for %s", key)
	}
	return stored, false, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_records SET result = $4, stored_at = NOW()
		 WHERE tenant_id = $1 AND command = $2 AND request_key = $3`,
		key.TenantID.String(), key.Command, key.RequestKey, value,
	)
	if err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records
		 WHERE tenant_id = $1 AND command = $2 AND request_key = $3`,
		key.TenantID.String(), key.Command, key.RequestKey,
	)
	if err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// Cleanup removes expired records; intended to run periodically.
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE stored_at < $1`,
		time.Now().Add(-s.ttl),
	)
	return err
}
