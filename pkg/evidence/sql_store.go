package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// SQLStore implements Store over database/sql. It works with both Postgres
// (lib/pq) and SQLite (modernc.org/sqlite) since both accept $N placeholders.
//
// Linearization: the INSERT guards on the tenant's current tail, so a writer
// holding a stale tail inserts zero rows. The (tenant_id, sequence) primary
// key is the backstop against two writers passing the guard simultaneously.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS evidence_entries (
	tenant_id        TEXT   NOT NULL,
	sequence         BIGINT NOT NULL,
	evidence_id      TEXT   NOT NULL,
	category         TEXT   NOT NULL,
	actor_kind       TEXT   NOT NULL,
	actor_id         TEXT   NOT NULL DEFAULT '',
	summary          TEXT   NOT NULL,
	payload          TEXT,
	payload_ref      TEXT   NOT NULL DEFAULT '',
	correlation_id   TEXT   NOT NULL,
	occurred_at      TEXT   NOT NULL,
	previous_hash    TEXT   NOT NULL,
	hash_sha256      TEXT   NOT NULL,
	signature_base64 TEXT   NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, sequence)
);
`

// Init creates the evidence table if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlSchema)
	return err
}

const tailQuery = `
SELECT sequence, evidence_id, category, actor_kind, actor_id, summary,
       payload, payload_ref, correlation_id, occurred_at, previous_hash,
       hash_sha256, signature_base64
FROM evidence_entries
WHERE tenant_id = $1
ORDER BY sequence DESC
LIMIT 1`

func (s *SQLStore) Tail(ctx context.Context, tenantID primitives.TenantID) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, tailQuery, tenantID.String())
	entry, err := scanEntry(row, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// compareAndAppendQuery inserts only when the tenant's tail still matches
// what the writer observed: either the chain is empty and the writer carries
// the genesis sentinel, or the max sequence row carries expectedPrevHash.
const compareAndAppendQuery = `
INSERT INTO evidence_entries
	(tenant_id, sequence, evidence_id, category, actor_kind, actor_id,
	 summary, payload, payload_ref, correlation_id, occurred_at,
	 previous_hash, hash_sha256, signature_base64)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
WHERE COALESCE(
	(SELECT hash_sha256 FROM evidence_entries
	 WHERE tenant_id = $1
	 ORDER BY sequence DESC LIMIT 1),
	$15
) = $12`

func (s *SQLStore) CompareAndAppend(ctx context.Context, tenantID primitives.TenantID, expectedPrevHash string, entry Entry) error {
	var payload any
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return apperr.Wrap(apperr.KindSerialization, "marshal evidence payload", err)
		}
		payload = string(b)
	}

	res, err := s.db.ExecContext(ctx, compareAndAppendQuery,
		tenantID.String(), entry.Sequence, entry.EvidenceID.String(),
		string(entry.Category), string(entry.Actor.Kind), entry.Actor.ID,
		entry.Summary, payload, entry.PayloadRef,
		entry.CorrelationID.String(), entry.OccurredAt,
		expectedPrevHash, entry.HashSHA256, entry.SignatureBase64,
		GenesisHash,
	)
	if err != nil {
		// Duplicate (tenant_id, sequence) means a concurrent writer won the
		// tail race between our guard read and insert.
		if isUniqueViolation(err) {
			return apperr.Conflictf("concurrent append won sequence %d for tenant %s", entry.Sequence, tenantID)
		}
		return fmt.Errorf("append evidence entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append evidence entry: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.Conflictf("chain tail moved for tenant %s, expected %s", tenantID, expectedPrevHash)
	}
	return nil
}

const listQuery = `
SELECT sequence, evidence_id, category, actor_kind, actor_id, summary,
       payload, payload_ref, correlation_id, occurred_at, previous_hash,
       hash_sha256, signature_base64
FROM evidence_entries
WHERE tenant_id = $1
ORDER BY sequence ASC`

func (s *SQLStore) List(ctx context.Context, tenantID primitives.TenantID) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, listQuery, tenantID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows, tenantID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, tenantID primitives.TenantID) (Entry, error) {
	var (
		e       Entry
		payload sql.NullString
	)
	err := row.Scan(&e.Sequence, &e.EvidenceID, &e.Category, &e.Actor.Kind,
		&e.Actor.ID, &e.Summary, &payload, &e.PayloadRef, &e.CorrelationID,
		&e.OccurredAt, &e.PreviousHash, &e.HashSHA256, &e.SignatureBase64)
	if err != nil {
		return Entry{}, err
	}
	e.TenantID = tenantID
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return Entry{}, fmt.Errorf("decode evidence payload: %w", err)
		}
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq exposes SQLSTATE via Error.Code; modernc sqlite wraps
	// SQLITE_CONSTRAINT in its message. String matching keeps this store
	// driver-agnostic, mirroring the shared $N placeholder approach.
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "constraint failed")
}
