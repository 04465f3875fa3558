package events

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portarium/core/pkg/apperr"
)

func TestNewEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(NewEnvelopeParams{
		Type:          "io.portarium.run.started",
		Subject:       "run-1",
		TenantID:      "tenant-1",
		CorrelationID: "corr-1",
		RunID:         "run-1",
		Data:          map[string]any{"workflowId": "wf-1"},
		Now:           now,
	})
	require.NoError(t, err)

	assert.Equal(t, "1.0", env.SpecVersion)
	assert.Equal(t, Source, env.Source)
	assert.Equal(t, "io.portarium.run.started", env.Type)
	assert.Equal(t, "tenant-1", env.TenantID)
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "run-1", env.RunID)
	assert.Equal(t, "2026-03-01T12:00:00Z", env.Time)
	assert.Equal(t, "application/json", env.DataContentType)
	assert.NotEmpty(t, env.ID)
	assert.JSONEq(t, `{"workflowId":"wf-1"}`, string(env.Data))
	assert.NoError(t, env.Validate())
}

func TestNewEnvelopeUniqueIDs(t *testing.T) {
	p := NewEnvelopeParams{Type: "io.portarium.run.started", TenantID: "t1", CorrelationID: "c1"}
	a, err := NewEnvelope(p)
	require.NoError(t, err)
	b, err := NewEnvelope(p)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewEnvelopeNilDataBecomesEmptyObject(t *testing.T) {
	env, err := NewEnvelope(NewEnvelopeParams{Type: "io.portarium.run.started", TenantID: "t1", CorrelationID: "c1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(env.Data))
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope(NewEnvelopeParams{TenantID: "t1", CorrelationID: "c1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "missing type")

	_, err = NewEnvelope(NewEnvelopeParams{Type: "x", CorrelationID: "c1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "missing tenant")

	_, err = NewEnvelope(NewEnvelopeParams{Type: "x", TenantID: "t1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "missing correlation")
}

func TestNewEnvelopeRejectsUnserializableData(t *testing.T) {
	_, err := NewEnvelope(NewEnvelopeParams{
		Type: "x", TenantID: "t1", CorrelationID: "c1",
		Data: map[string]any{"fn": func() {}},
	})
	assert.True(t, apperr.Is(err, apperr.KindSerialization))
}

func TestEnvelopeJSONUsesCloudEventsAttributeNames(t *testing.T) {
	env, err := NewEnvelope(NewEnvelopeParams{
		Type: "io.portarium.run.started", TenantID: "t1", CorrelationID: "c1",
	})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, attr := range []string{"specversion", "id", "source", "type", "time", "datacontenttype", "tenantid", "correlationid", "data"} {
		assert.Contains(t, decoded, attr)
	}
	assert.NotContains(t, decoded, "subject", "empty subject must be omitted")
	assert.NotContains(t, decoded, "runid", "empty runid must be omitted")
}

func TestMemoryPublisherRecordsInOrder(t *testing.T) {
	pub := NewMemoryPublisher()
	for _, typ := range []string{"io.portarium.run.started", "io.portarium.approval.created"} {
		env, err := NewEnvelope(NewEnvelopeParams{Type: typ, TenantID: "t1", CorrelationID: "c1"})
		require.NoError(t, err)
		require.NoError(t, pub.Publish(context.Background(), env))
	}
	got := pub.Published()
	require.Len(t, got, 2)
	assert.Equal(t, "io.portarium.run.started", got[0].Type)
	assert.Equal(t, "io.portarium.approval.created", got[1].Type)
}

func TestMemoryPublisherRejectsInvalidEnvelope(t *testing.T) {
	pub := NewMemoryPublisher()
	err := pub.Publish(context.Background(), Envelope{SpecVersion: "1.0"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, pub.Published())
}

func TestPostgresOutboxPublish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	env, err := NewEnvelope(NewEnvelopeParams{
		Type: "io.portarium.run.started", TenantID: "t1", CorrelationID: "c1",
	})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO event_outbox`)).
		WithArgs(env.ID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresOutbox(db).Publish(context.Background(), env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutboxPendingRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	env, err := NewEnvelope(NewEnvelopeParams{
		Type: "io.portarium.run.started", TenantID: "t1", CorrelationID: "c1",
	})
	require.NoError(t, err)
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, envelope, scheduled_at, status`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "envelope", "scheduled_at", "status"}).
			AddRow(env.ID, payload, time.Now(), "PENDING"))

	records, err := NewPostgresOutbox(db).Pending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, env.ID, records[0].ID)
	assert.Equal(t, env.Type, records[0].Envelope.Type)
	assert.Equal(t, "PENDING", records[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOutboxMarkDelivered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE event_outbox SET status = 'DELIVERED'`)).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresOutbox(db).MarkDelivered(context.Background(), "evt-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
