package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/authz"
	"github.com/portarium/core/pkg/cache"
	"github.com/portarium/core/pkg/events"
	"github.com/portarium/core/pkg/evidence"
	"github.com/portarium/core/pkg/idempotency"
	"github.com/portarium/core/pkg/orchestrator"
	"github.com/portarium/core/pkg/policy"
	"github.com/portarium/core/pkg/primitives"
	"github.com/portarium/core/pkg/projection"
	"github.com/portarium/core/pkg/ratelimit"
	"github.com/portarium/core/pkg/workflows"
)

// GuardSource supplies the policy guards attached to a command for a
// tenant. A nil source means no tenant policies.
type GuardSource func(ctx context.Context, tenant primitives.TenantID, command string) ([]policy.Guard, error)

// Telemetry instruments command invocations. The returned function is
// called exactly once with the terminal error, nil on success.
type Telemetry interface {
	TrackCommand(ctx context.Context, command, tenant string) (context.Context, func(error))
}

// Deps are the pipeline's collaborators, constructed once at startup and
// passed in explicitly.
type Deps struct {
	Authz        authz.Table
	Policy       *policy.Engine
	Guards       GuardSource
	Limiter      ratelimit.Limiter
	Rules        map[string]ratelimit.Rule
	Smoother     *ratelimit.Smoother
	Idempotency  idempotency.Store
	Store        Store
	Workflows    workflows.Store
	Ledger       *evidence.Ledger
	Publisher    events.Publisher
	Invalidator  *cache.Invalidator
	Projector    projection.Projector
	Orchestrator orchestrator.Orchestrator
	Logger       *slog.Logger
	Telemetry    Telemetry

	// AuditDenials opts into appending a PolicyDenied evidence entry for
	// rejected authorization attempts. Off by default; denials then leave
	// zero side effects.
	AuditDenials bool

	// AwaitAttempts and AwaitBackoff bound how long a request that lost
	// an idempotency race waits for the winner's result before returning
	// Conflict.
	AwaitAttempts int
	AwaitBackoff  time.Duration

	NewID func() string
	Now   func() time.Time
}

// Pipeline executes commands with the fixed step order.
type Pipeline struct {
	deps Deps
}

// NewPipeline validates the required collaborators and builds a pipeline.
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Authz == nil:
		return nil, apperr.Validationf("pipeline requires an authorization table")
	case deps.Idempotency == nil:
		return nil, apperr.Validationf("pipeline requires an idempotency store")
	case deps.Store == nil:
		return nil, apperr.Validationf("pipeline requires an aggregate store")
	case deps.Ledger == nil:
		return nil, apperr.Validationf("pipeline requires an evidence ledger")
	case deps.Publisher == nil:
		return nil, apperr.Validationf("pipeline requires an event publisher")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AwaitAttempts <= 0 {
		deps.AwaitAttempts = 20
	}
	if deps.AwaitBackoff <= 0 {
		deps.AwaitBackoff = 25 * time.Millisecond
	}
	return &Pipeline{deps: deps}, nil
}

// idemRecord is the stored idempotency record. A pending record claims
// the key before side effects run; Complete flips it to done with the
// final result.
type idemRecord struct {
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
}

const (
	statePending = "pending"
	stateDone    = "done"
)

// Result is the terminal outcome of one command invocation.
type Result struct {
	// Replayed is true when the payload is the stored result of a prior
	// execution for the same idempotency key.
	Replayed bool
	Payload  json.RawMessage
}

func (r Result) decode(out any) error {
	if err := json.Unmarshal(r.Payload, out); err != nil {
		return apperr.Serializationf("decode command result: %v", err)
	}
	return nil
}

// effects is what a command's domain step hands back for the pipeline's
// post-commit steps.
type effects struct {
	result     any
	drafts     []evidence.Draft
	events     []events.NewEnvelopeParams
	project    func(ctx context.Context, eventSeq uint64) error
	invalidate func(ctx context.Context)
	handoff    func(ctx context.Context) error
}

// execution describes one command to the pipeline.
type execution struct {
	command    string
	action     authz.Action
	requestKey string
	input      map[string]any
	run        func(ctx context.Context) (effects, error)
}

// execute walks the fixed step order. A failure short-circuits the
// remaining steps but never unwinds steps already committed.
func (p *Pipeline) execute(ctx context.Context, actx primitives.AppContext, ex execution) (Result, error) {
	if p.deps.Telemetry == nil {
		return p.executeSteps(ctx, actx, ex)
	}
	ctx, finish := p.deps.Telemetry.TrackCommand(ctx, ex.command, actx.TenantID().String())
	res, err := p.executeSteps(ctx, actx, ex)
	finish(err)
	return res, err
}

func (p *Pipeline) executeSteps(ctx context.Context, actx primitives.AppContext, ex execution) (Result, error) {
	if ex.requestKey == "" {
		return Result{}, apperr.Validationf("%s requires a requestKey", ex.command)
	}

	if !p.deps.Authz.Allows(actx, ex.action) {
		p.auditDenial(ctx, actx, ex)
		return Result{}, apperr.Forbiddenf("%s is not allowed for roles %v", ex.action, actx.Roles())
	}

	if p.deps.Policy != nil && p.deps.Guards != nil {
		guards, err := p.deps.Guards(ctx, actx.TenantID(), ex.command)
		if err != nil {
			return Result{}, apperr.Dependencyf("load policy guards: %v", err)
		}
		if err := p.deps.Policy.Evaluate(actx, ex.command, ex.input, guards); err != nil {
			return Result{}, err
		}
	}

	if err := p.checkRateLimit(ctx, actx, ex.command); err != nil {
		return Result{}, err
	}

	key := idempotency.Key{TenantID: actx.TenantID(), Command: ex.command, RequestKey: ex.requestKey}
	if stored, hit, err := p.deps.Idempotency.Get(ctx, key); err != nil {
		return Result{}, apperr.Dependencyf("idempotency lookup: %v", err)
	} else if hit {
		return p.resolveRecord(ctx, key, stored)
	}

	// Claim the key before any side effect so a concurrent request with
	// the same key cannot also execute the domain mutation.
	pending, err := json.Marshal(idemRecord{State: statePending})
	if err != nil {
		return Result{}, apperr.Serializationf("marshal reservation: %v", err)
	}
	held, won, err := p.deps.Idempotency.Put(ctx, key, pending)
	if err != nil {
		return Result{}, apperr.Dependencyf("idempotency claim: %v", err)
	}
	if !won {
		return p.resolveRecord(ctx, key, held)
	}

	eff, err := ex.run(ctx)
	if err != nil {
		// The domain step persists last, so nothing durable exists yet
		// and the key can be handed back.
		if relErr := p.deps.Idempotency.Release(ctx, key); relErr != nil {
			p.deps.Logger.Warn("idempotency release failed",
				"command", ex.command, "tenant", actx.TenantID(), "error", relErr)
		}
		return Result{}, err
	}

	payload, err := json.Marshal(eff.result)
	if err != nil {
		return Result{}, apperr.Serializationf("marshal %s result: %v", ex.command, err)
	}
	final, err := json.Marshal(idemRecord{State: stateDone, Result: payload})
	if err != nil {
		return Result{}, apperr.Serializationf("marshal idempotency record: %v", err)
	}

	// From here on the aggregate write is durable, so the key must never
	// be released: re-execution would mint a second aggregate and a second
	// chain entry. Any later failure resolves the record to done so that
	// retries replay the stored result.
	var lastSeq uint64
	for _, draft := range eff.drafts {
		entry, appendErr := p.deps.Ledger.Append(ctx, actx.TenantID(), draft)
		if appendErr != nil {
			p.completeRecord(ctx, key, final, ex.command)
			return Result{}, appendErr
		}
		lastSeq = entry.Sequence
	}
	p.completeRecord(ctx, key, final, ex.command)

	for _, params := range eff.events {
		env, envErr := events.NewEnvelope(params)
		if envErr != nil {
			return Result{}, envErr
		}
		if pubErr := p.deps.Publisher.Publish(ctx, env); pubErr != nil {
			return Result{}, apperr.Dependencyf("publish %s: %v", env.Type, pubErr)
		}
	}

	// Read models are rebuilt from events on failure, so a projection
	// error degrades to staleness instead of failing the command.
	if eff.project != nil && p.deps.Projector != nil {
		if projErr := eff.project(ctx, lastSeq); projErr != nil {
			p.deps.Logger.Warn("projection update failed",
				"command", ex.command, "tenant", actx.TenantID(), "error", projErr)
		}
	}

	if eff.invalidate != nil && p.deps.Invalidator != nil {
		eff.invalidate(ctx)
	}

	if eff.handoff != nil {
		if handoffErr := eff.handoff(ctx); handoffErr != nil {
			return Result{}, apperr.Dependencyf("orchestrator handoff: %v", handoffErr)
		}
	}

	return Result{Payload: payload}, nil
}

// completeRecord flips the claim to done. A store error here cannot be
// surfaced as a command failure, the mutation already committed; it only
// means retries wait out the claim TTL instead of replaying.
func (p *Pipeline) completeRecord(ctx context.Context, key idempotency.Key, record []byte, command string) {
	if err := p.deps.Idempotency.Complete(ctx, key, record); err != nil {
		p.deps.Logger.Warn("idempotency complete failed",
			"command", command, "key", key.String(), "error", err)
	}
}

// resolveRecord turns a stored idempotency record into a terminal result.
// A pending record means another request holds the key; wait briefly for
// its result, then surface Conflict.
func (p *Pipeline) resolveRecord(ctx context.Context, key idempotency.Key, stored []byte) (Result, error) {
	var rec idemRecord
	if err := json.Unmarshal(stored, &rec); err != nil {
		return Result{}, apperr.Serializationf("corrupt idempotency record for %s: %v", key, err)
	}
	if rec.State == stateDone {
		return Result{Replayed: true, Payload: rec.Result}, nil
	}
	for attempt := 0; attempt < p.deps.AwaitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, apperr.Dependencyf("awaiting idempotent result: %v", err)
		}
		time.Sleep(p.deps.AwaitBackoff)
		latest, hit, err := p.deps.Idempotency.Get(ctx, key)
		if err != nil {
			return Result{}, apperr.Dependencyf("idempotency lookup: %v", err)
		}
		if !hit {
			// The winner released the key after a failure; the caller can
			// retry cleanly.
			return Result{}, apperr.Conflictf("concurrent execution of %s failed, retry", key)
		}
		if err := json.Unmarshal(latest, &rec); err != nil {
			return Result{}, apperr.Serializationf("corrupt idempotency record for %s: %v", key, err)
		}
		if rec.State == stateDone {
			return Result{Replayed: true, Payload: rec.Result}, nil
		}
	}
	return Result{}, apperr.Conflictf("concurrent execution of %s still in progress", key)
}

// checkRateLimit fails open when the limiter backend errors: throttling is
// protective, not a correctness property.
func (p *Pipeline) checkRateLimit(ctx context.Context, actx primitives.AppContext, command string) error {
	// The smoother spreads a tenant's window quota over time so it cannot
	// land as one burst. It runs in process ahead of the shared limiter.
	if p.deps.Smoother != nil && !p.deps.Smoother.Allow(actx.TenantID()) {
		return apperr.RateLimitedf("tenant %s exceeded its burst allowance", actx.TenantID())
	}
	if p.deps.Limiter == nil {
		return nil
	}
	rule, ok := p.deps.Rules[command]
	if !ok {
		return nil
	}
	decision, err := p.deps.Limiter.Allow(ctx, actx.TenantID(), command, rule)
	if err != nil {
		p.deps.Logger.Warn("rate limiter unavailable",
			"command", command, "tenant", actx.TenantID(), "error", err)
		return nil
	}
	if !decision.Allowed {
		return apperr.RateLimitedf("%s rate limit exceeded, resets at %s",
			command, decision.ResetsAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func (p *Pipeline) auditDenial(ctx context.Context, actx primitives.AppContext, ex execution) {
	if !p.deps.AuditDenials {
		return
	}
	draft := evidence.Draft{
		Category:      evidence.CategoryPolicyDenied,
		Actor:         actorFrom(actx),
		Summary:       "authorization denied for " + string(ex.action),
		Payload:       map[string]any{"command": ex.command, "roles": actx.Roles()},
		CorrelationID: actx.CorrelationID(),
	}
	if _, err := p.deps.Ledger.Append(ctx, actx.TenantID(), draft); err != nil {
		p.deps.Logger.Warn("denial audit append failed",
			"command", ex.command, "tenant", actx.TenantID(), "error", err)
	}
}

func actorFrom(actx primitives.AppContext) evidence.Actor {
	kind := evidence.ActorUser
	switch {
	case actx.HasScope("agent"):
		kind = evidence.ActorAgent
	case actx.HasScope("robot"):
		kind = evidence.ActorRobot
	}
	return evidence.Actor{Kind: kind, ID: actx.PrincipalID().String()}
}
