package primitives

import (
	"context"
	"strings"
	"testing"

	"github.com/portarium/core/pkg/apperr"
)

func TestParseTenantID(t *testing.T) {
	id, err := ParseTenantID("  acme  ")
	if err != nil {
		t.Fatalf("ParseTenantID: %v", err)
	}
	if id.String() != "acme" {
		t.Errorf("expected trimmed id, got %q", id)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	for name, parse := range map[string]func(string) (string, error){
		"tenant": func(s string) (string, error) { id, err := ParseTenantID(s); return id.String(), err },
		"run":    func(s string) (string, error) { id, err := ParseRunID(s); return id.String(), err },
		"user":   func(s string) (string, error) { id, err := ParseUserID(s); return id.String(), err },
	} {
		if _, err := parse("   "); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("%s: expected ValidationError for blank input, got %v", name, err)
		}
	}
}

func TestParseRejectsOverlongAndControl(t *testing.T) {
	if _, err := ParseRunID(strings.Repeat("x", 201)); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected ValidationError for 201-rune id, got %v", err)
	}
	if _, err := ParseRunID("run\x00id"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected ValidationError for control character, got %v", err)
	}
}

func TestAppContextConstruction(t *testing.T) {
	ac, err := NewAppContext("acme", "user-1", []string{"operator"}, []string{"runs:write"}, "corr-1")
	if err != nil {
		t.Fatalf("NewAppContext: %v", err)
	}
	if !ac.HasRole("operator") || ac.HasRole("admin") {
		t.Errorf("role lookup wrong")
	}
	if !ac.HasScope("runs:write") {
		t.Errorf("scope lookup wrong")
	}
}

func TestAppContextImmutableRoles(t *testing.T) {
	roles := []string{"operator"}
	ac, _ := NewAppContext("acme", "user-1", roles, nil, "corr-1")

	roles[0] = "admin"
	if ac.HasRole("admin") {
		t.Fatalf("caller slice mutation leaked into AppContext")
	}

	got := ac.Roles()
	got[0] = "admin"
	if ac.HasRole("admin") {
		t.Fatalf("accessor slice mutation leaked into AppContext")
	}
}

func TestAppContextMissingFields(t *testing.T) {
	if _, err := NewAppContext("", "user-1", nil, nil, "corr-1"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("missing tenant must fail validation")
	}
	if _, err := NewAppContext("acme", "", nil, nil, "corr-1"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("missing principal must fail validation")
	}
}

func TestContextPlumbing(t *testing.T) {
	ac, _ := NewAppContext("acme", "user-1", nil, nil, "corr-1")
	ctx := WithAppContext(context.Background(), ac)

	got, err := FromContext(ctx)
	if err != nil {
		t.Fatalf("FromContext: %v", err)
	}
	if got.TenantID() != "acme" {
		t.Errorf("wrong tenant: %s", got.TenantID())
	}

	if _, err := FromContext(context.Background()); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("bare context must yield Unauthorized, got %v", err)
	}
}
