// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic hashing of evidence entries and
// idempotent-value comparison. Two values that are deeply equal modulo
// object-key order canonicalize to identical bytes.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/portarium/core/pkg/apperr"
)

// Canonicalize returns the RFC 8785 canonical JSON form of v.
//
// Object keys are sorted lexicographically by UTF-8 bytes, array order is
// preserved, and HTML escaping is disabled. Values that have no faithful
// canonical JSON form are rejected with a SerializationError rather than
// silently coerced: non-finite floats, functions, channels, complex numbers,
// big integers, and non-plain types such as time.Time.
func Canonicalize(v any) ([]byte, error) {
	if err := validate(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSerialization, "value is not JSON-serializable", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSerialization, "canonical transform failed", err)
	}
	return out, nil
}

// CanonicalString returns the canonical form as a string.
func CanonicalString(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// SHA256Hex computes the SHA-256 digest of raw bytes as 64 lowercase hex
// characters.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const maxDepth = 64

var (
	timeType    = reflect.TypeOf(time.Time{})
	bigIntType  = reflect.TypeOf(big.Int{})
	rawMsgType  = reflect.TypeOf(json.RawMessage(nil))
	marshalerIf = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// validate walks v and rejects anything outside the canonical value domain
// before the JSON round trip can coerce or mangle it.
func validate(v reflect.Value, depth int) error {
	if depth > maxDepth {
		return apperr.Serializationf("value nesting exceeds %d levels", maxDepth)
	}
	if !v.IsValid() {
		return nil // encodes as null
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return validate(v.Elem(), depth)

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return apperr.Serializationf("non-finite number %v cannot be canonicalized", f)
		}
		return nil

	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return apperr.Serializationf("unsupported kind %s", v.Kind())

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return apperr.Serializationf("map keys must be strings, got %s", v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := validate(iter.Value(), depth+1); err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice, reflect.Array:
		if v.Type() == rawMsgType {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := validate(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		t := v.Type()
		switch t {
		case timeType:
			return apperr.Serializationf("time.Time is not a plain JSON value; format it as a string first")
		case bigIntType:
			return apperr.Serializationf("arbitrary-precision integers cannot be canonicalized")
		}
		if t.Implements(marshalerIf) || reflect.PointerTo(t).Implements(marshalerIf) {
			return apperr.Serializationf("non-plain type %s with custom JSON marshaling cannot be canonicalized", t)
		}
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := validate(v.Field(i), depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}
