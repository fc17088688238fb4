package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransformFunc projects a resolved source value into its canonical form.
type TransformFunc func(v any) (any, error)

// transforms is the closed set from spec.md §4.3. An unrecognized name
// fails mapping load, never runtime (validateTransforms checks this at
// Load time); Apply still returns an error defensively if called with a
// name that slipped past validation.
var transforms = map[string]TransformFunc{
	"identity":         identity,
	"lowercase":        lowercase,
	"iso_datetime":     isoDatetime,
	"hash_sha256":      hashSHA256,
	"bool_from_string": boolFromString,
}

// Apply runs the named transform, or identity if name is empty.
func Apply(name string, v any) (any, error) {
	if name == "" {
		return identity(v)
	}
	fn, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("mapping: unknown transform %q", name)
	}
	return fn(v)
}

func identity(v any) (any, error) { return v, nil }

func lowercase(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("mapping: lowercase: value is not a string: %T", v)
	}
	return strings.ToLower(s), nil
}

func isoDatetime(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("mapping: iso_datetime: value is not a string: %T", v)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("mapping: iso_datetime: parsing %q: %w", s, err)
	}
	return t, nil
}

func hashSHA256(v any) (any, error) {
	s := fmt.Sprintf("%v", v)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

func boolFromString(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return nil, fmt.Errorf("mapping: bool_from_string: parsing %q: %w", t, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("mapping: bool_from_string: value is not a string: %T", v)
	}
}
