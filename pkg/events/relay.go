package events

import (
	"context"
	"log/slog"
	"time"
)

// Outbox is the durable store a Relay drains.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkDelivered(ctx context.Context, id string) error
}

// Relay moves pending outbox records to a delivery sink. A record is
// marked delivered only after the sink accepts it, so a sink outage
// leaves events pending for the next pass instead of dropping them.
type Relay struct {
	outbox Outbox
	sink   Publisher
	logger *slog.Logger
	batch  int
}

// NewRelay builds a relay draining outbox into sink.
func NewRelay(outbox Outbox, sink Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{outbox: outbox, sink: sink, logger: logger, batch: 100}
}

// DrainOnce delivers one batch of pending records, oldest first. It stops
// at the first sink failure and reports how many records were delivered.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	records, err := r.outbox.Pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, rec := range records {
		if err := r.sink.Publish(ctx, rec.Envelope); err != nil {
			return delivered, err
		}
		if err := r.outbox.MarkDelivered(ctx, rec.ID); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// Run drains on a fixed interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				r.logger.Warn("outbox drain failed", "delivered", n, "error", err)
			}
		}
	}
}

// LogPublisher is the delivery sink of last resort: it writes each
// envelope to the structured log. Deployments without a broker still get
// an ordered, observable event stream.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a sink logging at info level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.logger.Info("event delivered",
		"id", env.ID, "type", env.Type, "subject", env.Subject,
		"tenant", env.TenantID, "correlation", env.CorrelationID)
	return nil
}
