package evidence

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/canonicalize"
	"github.com/portarium/core/pkg/primitives"
)

// Store is the durable backend for evidence chains. Append-only: there is no
// update or delete.
type Store interface {
	// Tail returns the latest entry for a tenant, or ok=false for an empty
	// chain.
	Tail(ctx context.Context, tenantID primitives.TenantID) (Entry, bool, error)

	// CompareAndAppend persists entry if and only if the tenant's current
	// tail hash equals expectedPrevHash (GenesisHash for an empty chain).
	// A stale tail yields apperr.KindConflict.
	CompareAndAppend(ctx context.Context, tenantID primitives.TenantID, expectedPrevHash string, entry Entry) error

	// List returns all entries for a tenant in sequence order.
	List(ctx context.Context, tenantID primitives.TenantID) ([]Entry, error)
}

// PayloadStore offloads large payloads to content-addressed WORM storage.
type PayloadStore interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// defaultAppendAttempts bounds compare-and-append retries before surfacing
// Conflict.
const defaultAppendAttempts = 3

// Ledger chains drafts onto per-tenant evidence chains.
type Ledger struct {
	store            Store
	signer           Signer
	payloads         PayloadStore
	payloadThreshold int
	now              func() time.Time
	newID            func() string
	attempts         int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSigner enables detached signatures over the canonical entry form.
func WithSigner(s Signer) Option {
	return func(l *Ledger) { l.signer = s }
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides evidence id generation (tests).
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// WithPayloadOffload moves payloads whose canonical form exceeds threshold
// bytes into the payload store; the entry then carries only the content
// address. Entries stay small and the chain stays verifiable, since the
// address is covered by the hash.
func WithPayloadOffload(store PayloadStore, threshold int) Option {
	return func(l *Ledger) {
		l.payloads = store
		l.payloadThreshold = threshold
	}
}

// WithAppendAttempts overrides the bounded retry budget for tail conflicts.
func WithAppendAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.attempts = n
		}
	}
}

// NewLedger builds a Ledger over the given store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		attempts: defaultAppendAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append links draft onto the tenant's chain and persists it.
//
// Concurrent appenders race on the chain tail; the storage layer rejects
// stale tails and Append retries with jittered backoff up to appendAttempts
// before surfacing Conflict. The returned entry is the persisted, fully
// hashed (and optionally signed) record.
func (l *Ledger) Append(ctx context.Context, tenantID primitives.TenantID, draft Draft) (Entry, error) {
	if tenantID == "" {
		return Entry{}, apperr.Validationf("evidence append requires a tenantId")
	}
	if err := draft.validate(); err != nil {
		return Entry{}, err
	}
	if err := l.offloadPayload(ctx, &draft); err != nil {
		return Entry{}, err
	}

	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Entry{}, apperr.Wrap(apperr.KindDependencyFailure, "evidence append cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		tail, ok, err := l.store.Tail(ctx, tenantID)
		if err != nil {
			return Entry{}, apperr.Wrap(apperr.KindDependencyFailure, "read chain tail", err)
		}
		prevHash := GenesisHash
		var seq uint64 = 1
		if ok {
			prevHash = tail.HashSHA256
			seq = tail.Sequence + 1
		}

		entry, err := l.seal(tenantID, draft, seq, prevHash)
		if err != nil {
			return Entry{}, err
		}

		err = l.store.CompareAndAppend(ctx, tenantID, prevHash, entry)
		if err == nil {
			return entry, nil
		}
		if apperr.KindOf(err) != apperr.KindConflict {
			return Entry{}, apperr.Wrap(apperr.KindDependencyFailure, "persist evidence entry", err)
		}
		lastErr = err
	}
	return Entry{}, apperr.Wrap(apperr.KindConflict,
		fmt.Sprintf("evidence chain for tenant %s moved %d times during append", tenantID, l.attempts), lastErr)
}

// offloadPayload replaces an oversized payload with its content address.
func (l *Ledger) offloadPayload(ctx context.Context, draft *Draft) error {
	if l.payloads == nil || draft.Payload == nil || draft.PayloadRef != "" {
		return nil
	}
	canonical, err := canonicalize.Canonicalize(draft.Payload)
	if err != nil {
		return err
	}
	if len(canonical) <= l.payloadThreshold {
		return nil
	}
	ref, err := l.payloads.Put(ctx, canonical)
	if err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, "offload evidence payload", err)
	}
	draft.PayloadRef = ref
	draft.Payload = nil
	return nil
}

// seal completes a draft into a hashed, optionally signed entry.
func (l *Ledger) seal(tenantID primitives.TenantID, draft Draft, seq uint64, prevHash string) (Entry, error) {
	entry := Entry{
		EvidenceID:    primitives.EvidenceID(l.newID()),
		Sequence:      seq,
		TenantID:      tenantID,
		Category:      draft.Category,
		Actor:         draft.Actor,
		Summary:       draft.Summary,
		Payload:       draft.Payload,
		PayloadRef:    draft.PayloadRef,
		CorrelationID: draft.CorrelationID,
		OccurredAt:    l.now().UTC().Format(time.RFC3339Nano),
		PreviousHash:  prevHash,
	}

	canonical, err := canonicalize.Canonicalize(entry.hashable())
	if err != nil {
		return Entry{}, err
	}
	entry.HashSHA256 = canonicalize.SHA256Hex(canonical)

	if l.signer != nil {
		sig, err := l.signer.Sign(canonical)
		if err != nil {
			return Entry{}, apperr.Wrap(apperr.KindDependencyFailure, "sign evidence entry", err)
		}
		entry.SignatureBase64 = base64.StdEncoding.EncodeToString(sig)
	}
	return entry, nil
}

// List returns a tenant's full chain in sequence order.
func (l *Ledger) List(ctx context.Context, tenantID primitives.TenantID) ([]Entry, error) {
	entries, err := l.store.List(ctx, tenantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyFailure, "list evidence entries", err)
	}
	return entries, nil
}

func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 25 * time.Millisecond
	if base > 250*time.Millisecond {
		base = 250 * time.Millisecond
	}
	jitter := time.Duration(rand.Int64N(int64(10 * time.Millisecond)))
	return base + jitter
}

// VerifyChain replays entries (in sequence order, one tenant) and confirms
// the chain is unbroken: sequences increase by one from 1, each previousHash
// equals the recomputed hash of the prior entry, every stored hash matches
// its recomputed value, and signatures (when present and a verifier is
// given) are valid. Any mismatch proves tampering or loss.
func VerifyChain(entries []Entry, verifier SignatureVerifier) error {
	prevHash := GenesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return apperr.Conflictf("entry %d has sequence %d, want %d", i, e.Sequence, i+1)
		}
		if i > 0 && e.TenantID != entries[0].TenantID {
			return apperr.Conflictf("entry %d crosses tenant boundary", i)
		}
		if e.PreviousHash != prevHash {
			return apperr.Conflictf("entry %d previousHash %s does not match prior hash %s", i, e.PreviousHash, prevHash)
		}

		canonical, err := canonicalize.Canonicalize(e.hashable())
		if err != nil {
			return err
		}
		recomputed := canonicalize.SHA256Hex(canonical)
		if recomputed != e.HashSHA256 {
			return apperr.Conflictf("entry %d hash mismatch: stored %s, recomputed %s", i, e.HashSHA256, recomputed)
		}

		if verifier != nil && e.SignatureBase64 != "" {
			sig, err := base64.StdEncoding.DecodeString(e.SignatureBase64)
			if err != nil {
				return apperr.Conflictf("entry %d signature is not valid base64", i)
			}
			if !verifier.Verify(canonical, sig) {
				return apperr.Conflictf("entry %d signature verification failed", i)
			}
		}
		prevHash = e.HashSHA256
	}
	return nil
}
