package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryLimiterAllowsUpToLimit(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = fixedClock(base)
	rule := Rule{Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d, err := l.Allow(context.Background(), "t1", "startWorkflow", rule)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied inside the limit", i+1)
		}
		if d.Remaining != rule.Limit-(i+1) {
			t.Fatalf("request %d remaining = %d", i+1, d.Remaining)
		}
	}

	d, err := l.Allow(context.Background(), "t1", "startWorkflow", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("request past the limit must be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("denied decision remaining = %d", d.Remaining)
	}
}

func TestMemoryLimiterWindowAnchoredToFloor(t *testing.T) {
	l := NewMemoryLimiter()
	// 12:00:45 falls in the window starting 12:00:00
	l.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 45, 0, time.UTC))
	rule := Rule{Limit: 1, Window: time.Minute}

	d, err := l.Allow(context.Background(), "t1", "startWorkflow", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !d.ResetsAt.Equal(want) {
		t.Fatalf("ResetsAt = %v, want %v", d.ResetsAt, want)
	}
}

func TestMemoryLimiterWindowRollover(t *testing.T) {
	l := NewMemoryLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	l.now = fixedClock(base)
	rule := Rule{Limit: 1, Window: time.Minute}

	if d, _ := l.Allow(context.Background(), "t1", "startWorkflow", rule); !d.Allowed {
		t.Fatal("first request denied")
	}
	if d, _ := l.Allow(context.Background(), "t1", "startWorkflow", rule); d.Allowed {
		t.Fatal("second request in the same window must be denied")
	}

	// two seconds later a fresh window has begun
	l.now = fixedClock(base.Add(2 * time.Second))
	if d, _ := l.Allow(context.Background(), "t1", "startWorkflow", rule); !d.Allowed {
		t.Fatal("request in the new window must be allowed")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	l.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rule := Rule{Limit: 1, Window: time.Minute}

	if d, _ := l.Allow(context.Background(), "t1", "startWorkflow", rule); !d.Allowed {
		t.Fatal("t1 denied")
	}
	if d, _ := l.Allow(context.Background(), "t2", "startWorkflow", rule); !d.Allowed {
		t.Fatal("other tenant shares t1's counter")
	}
	if d, _ := l.Allow(context.Background(), "t1", "createApproval", rule); !d.Allowed {
		t.Fatal("other command shares the startWorkflow counter")
	}
}

func TestMemoryLimiterRejectsBadRule(t *testing.T) {
	l := NewMemoryLimiter()
	_, err := l.Allow(context.Background(), "t1", "startWorkflow", Rule{Limit: 0, Window: time.Minute})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	_, err = l.Allow(context.Background(), "t1", "startWorkflow", Rule{Limit: 5})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSmootherAllowsBurstThenThrottles(t *testing.T) {
	s := NewSmoother(1, 2)
	tenant := primitives.TenantID("t1")

	if !s.Allow(tenant) || !s.Allow(tenant) {
		t.Fatal("burst capacity should admit two immediate requests")
	}
	if s.Allow(tenant) {
		t.Fatal("third immediate request should be throttled")
	}
	// an unrelated tenant has its own bucket
	if !s.Allow(primitives.TenantID("t2")) {
		t.Fatal("fresh tenant throttled")
	}
}

func TestSmootherSweep(t *testing.T) {
	s := NewSmoother(1, 1)
	s.Allow(primitives.TenantID("t1"))
	if len(s.buckets) != 1 {
		t.Fatalf("buckets = %d", len(s.buckets))
	}
	s.Sweep(-time.Millisecond)
	if len(s.buckets) != 0 {
		t.Fatalf("buckets after sweep = %d", len(s.buckets))
	}
}
