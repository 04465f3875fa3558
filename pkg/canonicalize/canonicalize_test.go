package canonicalize

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/portarium/core/pkg/apperr"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := CanonicalString(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":2,"b":1}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("key order leaked into canonical form: %s vs %s", a, b)
	}
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	got, err := CanonicalString([]int{2, 1, 2})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if got != "[2,1,2]" {
		t.Errorf("got %s, want [2,1,2]", got)
	}
}

func TestCanonicalizeNestedSorting(t *testing.T) {
	got, err := CanonicalString(map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":1,"z":{"x":"bar","y":"foo"}}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeNoHTMLEscaping(t *testing.T) {
	got, err := CanonicalString(map[string]string{"html": "<script> &"})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"html":"<script> &"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalizeRejectsNonFinite(t *testing.T) {
	for name, v := range map[string]any{
		"NaN":  math.NaN(),
		"+Inf": math.Inf(1),
		"-Inf": math.Inf(-1),
		"nested NaN": map[string]any{
			"outer": []any{1.0, math.NaN()},
		},
	} {
		if _, err := Canonicalize(v); apperr.KindOf(err) != apperr.KindSerialization {
			t.Errorf("%s: expected SerializationError, got %v", name, err)
		}
	}
}

func TestCanonicalizeRejectsNonPlainTypes(t *testing.T) {
	for name, v := range map[string]any{
		"time.Time":   time.Now(),
		"time ptr":    &time.Time{},
		"func":        func() {},
		"chan":        make(chan int),
		"big.Int":     big.NewInt(1),
		"complex":     complex(1, 2),
		"int-key map": map[int]string{1: "x"},
	} {
		if _, err := Canonicalize(v); apperr.KindOf(err) != apperr.KindSerialization {
			t.Errorf("%s: expected SerializationError, got %v", name, err)
		}
	}
}

func TestCanonicalizeStructFields(t *testing.T) {
	type entry struct {
		Z string `json:"z"`
		A int    `json:"a"`
	}
	got, err := CanonicalString(entry{Z: "v", A: 1})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":1,"z":"v"}`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("SHA256Hex(abc) = %s, want %s", got, want)
	}
}

func TestCanonicalHashStable(t *testing.T) {
	h1, err := CanonicalHash(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	h2, err := CanonicalHash(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("CanonicalHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash differs across key orders")
	}
	if len(h1) != 64 {
		t.Errorf("hash must be 64 hex chars, got %d", len(h1))
	}
}
