package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// OutboxRecord is one stored event awaiting delivery.
type OutboxRecord struct {
	ID          string
	Envelope    Envelope
	ScheduledAt time.Time
	Status      string
}

// PostgresOutbox stores envelopes transactionally alongside command state
// so a crash between commit and publish cannot lose events. A relay drains
// pending rows and marks them done.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox creates a PostgreSQL-backed outbox publisher.
func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

const outboxSchema = `
CREATE TABLE IF NOT EXISTS event_outbox (
	id           TEXT PRIMARY KEY,
	envelope     JSONB NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status       TEXT NOT NULL DEFAULT 'PENDING'
);
`

// Init creates the outbox table if missing.
func (o *PostgresOutbox) Init(ctx context.Context) error {
	_, err := o.db.ExecContext(ctx, outboxSchema)
	return err
}

// Publish appends the envelope to the outbox. The envelope ID doubles as
// the dedupe key, so republishing the same event is a no-op.
func (o *PostgresOutbox) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO event_outbox (id, envelope, scheduled_at, status)
		 VALUES ($1, $2, $3, 'PENDING')
		 ON CONFLICT (id) DO NOTHING`,
		env.ID, payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("outbox publish: %w", err)
	}
	return nil
}

// Pending lists undelivered records oldest first.
func (o *PostgresOutbox) Pending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := o.db.QueryContext(ctx,
		`SELECT id, envelope, scheduled_at, status
		 FROM event_outbox
		 WHERE status = 'PENDING'
		 ORDER BY scheduled_at ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutboxRecord
	for rows.Next() {
		var (
			rec     OutboxRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &payload, &rec.ScheduledAt, &rec.Status); err != nil {
			return nil, fmt.Errorf("outbox pending: scan: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Envelope); err != nil {
			return nil, fmt.Errorf("corrupt envelope in outbox record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkDelivered marks one record delivered.
func (o *PostgresOutbox) MarkDelivered(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE event_outbox SET status = 'DELIVERED' WHERE id = $1`, id)
	return err
}
