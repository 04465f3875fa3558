// Package events publishes domain events as CloudEvents 1.0 envelopes.
// Tenant and correlation travel as extension attributes so consumers can
// route and trace without opening the data payload.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Source identifies this control plane as the event producer.
const Source = "https://portarium.io/core"

// SpecVersion is the CloudEvents version emitted.
const SpecVersion = "1.0"

// Envelope is a CloudEvents 1.0 structured-mode event.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject,omitempty"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TenantID        string          `json:"tenantid"`
	CorrelationID   string          `json:"correlationid"`
	RunID           string          `json:"runid,omitempty"`
	Data            json.RawMessage `json:"data"`
}

// NewEnvelopeParams carries everything needed to mint an envelope.
type NewEnvelopeParams struct {
	Type          string
	Subject       string
	TenantID      primitives.TenantID
	CorrelationID primitives.CorrelationID
	RunID         primitives.RunID
	Data          any
	Now           time.Time
}

// NewEnvelope builds a validated envelope. Data is marshalled to JSON; a
// nil Data becomes an empty object so consumers always receive one.
func NewEnvelope(p NewEnvelopeParams) (Envelope, error) {
	if p.Type == "" {
		return Envelope{}, apperr.Validationf("event requires a type")
	}
	if p.TenantID == "" {
		return Envelope{}, apperr.Validationf("event requires a tenantid")
	}
	if p.CorrelationID == "" {
		return Envelope{}, apperr.Validationf("event requires a correlationid")
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	data := json.RawMessage(`{}`)
	if p.Data != nil {
		b, err := json.Marshal(p.Data)
		if err != nil {
			return Envelope{}, apperr.Serializationf("marshal event data: %v", err)
		}
		data = b
	}
	return Envelope{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          Source,
		Type:            p.Type,
		Subject:         p.Subject,
		Time:            now.UTC().Format(time.RFC3339Nano),
		DataContentType: "application/json",
		TenantID:        p.TenantID.String(),
		CorrelationID:   p.CorrelationID.String(),
		RunID:           p.RunID.String(),
		Data:            data,
	}, nil
}

// Validate checks an envelope received from storage or the wire.
func (e Envelope) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return apperr.Validationf("unsupported specversion %q", e.SpecVersion)
	case e.ID == "":
		return apperr.Validationf("event missing id")
	case e.Source == "":
		return apperr.Validationf("event missing source")
	case e.Type == "":
		return apperr.Validationf("event missing type")
	case e.TenantID == "":
		return apperr.Validationf("event missing tenantid")
	case e.CorrelationID == "":
		return apperr.Validationf("event missing correlationid")
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Time); err != nil {
		return apperr.Validationf("event time %q is not RFC 3339", e.Time)
	}
	return nil
}
