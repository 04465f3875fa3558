package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := Conflictf("chain tail moved for tenant %s", "acme")
	if KindOf(err) != KindConflict {
		t.Fatalf("expected KindConflict, got %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("foreign errors must map to KindUnknown")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Forbiddenf("caller may not start runs")
	outer := fmt.Errorf("pipeline step 2: %w", inner)

	if !Is(outer, KindForbidden) {
		t.Fatalf("kind lost through %%w wrapping")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDependencyFailure, "evidence store unreachable", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}
	if KindOf(err) != KindDependencyFailure {
		t.Fatalf("wrong kind: %v", KindOf(err))
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindValidation:        "ValidationError",
		KindConflict:          "Conflict",
		KindSerialization:     "SerializationError",
		KindDependencyFailure: "DependencyFailure",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
