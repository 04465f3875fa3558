// Package policy evaluates tenant-authored guard expressions against
// command input. Guards are CEL expressions that must evaluate to a
// boolean; a false result denies the command and an evaluation error
// fails closed.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/portarium/core/pkg/apperr"
	"github.com/portarium/core/pkg/primitives"
)

// Guard is one named policy rule attached to a command.
type Guard struct {
	Name       string
	Expression string
}

// Engine compiles and caches guard programs. Compilation happens once per
// distinct expression; evaluation is lock-free after the first hit.
type Engine struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEngine builds the shared evaluation environment. Guards see the
// tenant, the acting principal with its roles, the command name, and the
// command input as a dynamic map.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tenant", cel.StringType),
		cel.Variable("principal", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("command", cel.StringType),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create policy environment: %w", err)
	}
	return &Engine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile validates a guard expression without evaluating it, for use at
// guard-registration time. The compiled program is retained for later
// evaluation.
func (e *Engine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs every guard against the command input. The first guard to
// deny or fail stops evaluation; no guards means allow.
func (e *Engine) Evaluate(actx primitives.AppContext, command string, input map[string]any, guards []Guard) error {
	if len(guards) == 0 {
		return nil
	}
	activation := map[string]any{
		"tenant":    actx.TenantID().String(),
		"principal": actx.PrincipalID().String(),
		"roles":     actx.Roles(),
		"command":   command,
		"input":     input,
	}
	if input == nil {
		activation["input"] = map[string]any{}
	}
	for _, g := range guards {
		allowed, err := e.evaluate(g.Expression, activation)
		if err != nil {
			// fail closed
			return apperr.Forbiddenf("policy %q failed to evaluate: %v", g.Name, err)
		}
		if !allowed {
			return apperr.Forbiddenf("policy %q denied %s", g.Name, command)
		}
	}
	return nil
}

func (e *Engine) evaluate(expression string, activation map[string]any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard result is %T, want bool", out.Value())
	}
	return val, nil
}

func (e *Engine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expression]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expression]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.cache[expression] = prg
	return prg, nil
}
