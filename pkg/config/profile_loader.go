package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portarium/core/pkg/policy"
	"github.com/portarium/core/pkg/ratelimit"
)

// OperatingProfile bundles the tunable command-plane settings that vary
// between deployments: per-command rate limits and the policy guards
// evaluated before a command runs.
type OperatingProfile struct {
	Name   string                   `yaml:"name" json:"name"`
	Limits map[string]LimitConfig   `yaml:"limits" json:"limits"`
	Guards map[string][]GuardConfig `yaml:"guards,omitempty" json:"guards,omitempty"`
}

// LimitConfig holds one per-command quota.
type LimitConfig struct {
	Limit  int    `yaml:"limit" json:"limit"`
	Window string `yaml:"window" json:"window"`
}

// GuardConfig is a named policy expression attached to a command.
type GuardConfig struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
}

// LoadProfile loads an operating profile YAML by name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*OperatingProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return profile, nil
}

// ParseProfile decodes and validates a profile document.
func ParseProfile(data []byte) (*OperatingProfile, error) {
	var profile OperatingProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	for command, lc := range profile.Limits {
		if _, err := lc.rule(); err != nil {
			return nil, fmt.Errorf("limit for %q: %w", command, err)
		}
	}
	for command, guards := range profile.Guards {
		for _, g := range guards {
			if g.Name == "" || g.Expression == "" {
				return nil, fmt.Errorf("guard for %q requires a name and an expression", command)
			}
		}
	}
	return &profile, nil
}

// Rules converts the profile limits into rate limiter rules keyed by
// command name.
func (p *OperatingProfile) Rules() (map[string]ratelimit.Rule, error) {
	rules := make(map[string]ratelimit.Rule, len(p.Limits))
	for command, lc := range p.Limits {
		rule, err := lc.rule()
		if err != nil {
			return nil, fmt.Errorf("limit for %q: %w", command, err)
		}
		rules[command] = rule
	}
	return rules, nil
}

// GuardsFor returns the policy guards attached to a command, if any.
func (p *OperatingProfile) GuardsFor(command string) []policy.Guard {
	configs := p.Guards[command]
	if len(configs) == 0 {
		return nil
	}
	guards := make([]policy.Guard, 0, len(configs))
	for _, g := range configs {
		guards = append(guards, policy.Guard{Name: g.Name, Expression: g.Expression})
	}
	return guards
}

func (lc LimitConfig) rule() (ratelimit.Rule, error) {
	window, err := time.ParseDuration(lc.Window)
	if err != nil {
		return ratelimit.Rule{}, fmt.Errorf("invalid window %q: %w", lc.Window, err)
	}
	rule := ratelimit.Rule{Limit: lc.Limit, Window: window}
	if err := rule.Validate(); err != nil {
		return ratelimit.Rule{}, err
	}
	return rule, nil
}
