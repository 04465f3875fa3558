package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget defines a service level objective for one command.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Command     string        `json:"command"`      // startWorkflow, submitApproval, etc.
	LatencyP99  time.Duration `json:"latency_p99"`  // Target p99 latency
	SuccessRate float64       `json:"success_rate"` // Target success rate (0-1)
	WindowHours int           `json:"window_hours"` // Evaluation window
}

// SLOObservation is a single data point. Tenant attribution lets a noisy
// tenant be separated from fleet-wide degradation.
type SLOObservation struct {
	Command   string        `json:"command"`
	Tenant    string        `json:"tenant"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance. Tenant is empty for the
// fleet-wide view.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Command          string  `json:"command"`
	Tenant           string  `json:"tenant,omitempty"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker monitors SLOs across commands.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget       // command → target
	observations map[string][]SLOObservation // command → observations
	clock        func() time.Time
}

// NewSLOTracker creates a new tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets an SLO target for a command.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Command] = target
}

// Record records an observation. Observations for commands without a
// target are kept so a target can be attached later.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	t.observations[obs.Command] = append(t.observations[obs.Command], obs)
}

// Status computes current SLO status for a command across all tenants.
func (t *SLOTracker) Status(command string) (*SLOStatus, error) {
	return t.status(command, "")
}

// TenantStatus computes the status for one tenant's traffic, judged
// against the same target as the fleet.
func (t *SLOTracker) TenantStatus(command, tenant string) (*SLOStatus, error) {
	return t.status(command, tenant)
}

// Tenants lists the tenants with observations for a command within the
// target's window, for iterating a per-tenant breakdown.
func (t *SLOTracker) Tenants(command string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := time.Time{}
	if target, ok := t.targets[command]; ok {
		windowStart = t.clock().Add(-time.Duration(target.WindowHours) * time.Hour)
	}
	seen := map[string]bool{}
	var out []string
	for _, obs := range t.observations[command] {
		if obs.Timestamp.After(windowStart) && obs.Tenant != "" && !seen[obs.Tenant] {
			seen[obs.Tenant] = true
			out = append(out, obs.Tenant)
		}
	}
	sort.Strings(out)
	return out
}

func (t *SLOTracker) status(command, tenant string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[command]
	if !ok {
		return nil, fmt.Errorf("no SLO target for command %q", command)
	}

	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)

	var windowed []SLOObservation
	for _, obs := range t.observations[command] {
		if !obs.Timestamp.After(windowStart) {
			continue
		}
		if tenant != "" && obs.Tenant != tenant {
			continue
		}
		windowed = append(windowed, obs)
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:            target.SLOID,
			Command:          command,
			Tenant:           tenant,
			InCompliance:     true,
			ErrorBudgetLeft:  100.0,
			ObservationCount: 0,
		}, nil
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	successOK := successRate >= target.SuccessRate

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
	}
	budgetLeft := 100.0 * (1.0 - burnRate)
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Command:          command,
		Tenant:           tenant,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     latencyOK && successOK,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}
