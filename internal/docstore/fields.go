package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

type unset struct{}

func (unset) String() string { return "<unset>" }

// Unset marks a field as "do not touch". It is never written to a backend and
// is distinct from nil (explicit null) and "" (explicit empty string).
var Unset any = unset{}

// IsUnset reports whether v is the Unset marker.
func IsUnset(v any) bool {
	_, ok := v.(unset)
	return ok
}

// Fields is the field map of a document.
type Fields map[string]any

// Stripped returns a copy of f without Unset entries.
func (f Fields) Stripped() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if IsUnset(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge applies patch onto a copy of f. Unset entries in patch are ignored.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	for k, v := range patch {
		if IsUnset(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Time reads a timestamp field. Backends that round-trip through JSON hand
// back RFC 3339 strings, in-process backends keep time.Time.
func (f Fields) Time(key string) time.Time {
	switch v := f[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// Normalize converts a JSON-decoded map so values compare and sort the same
// way as values written in-process: json.Number becomes int64 or float64 and
// nested maps and slices are normalized recursively.
func Normalize(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		fl, _ := t.Float64()
		return fl
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		return map[string]any(Normalize(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// Encode serialises fields for storage. Unset entries must already be stripped.
func Encode(f Fields) ([]byte, error) {
	for k, v := range f {
		if IsUnset(v) {
			return nil, fmt.Errorf("field %q is unset", k)
		}
	}
	return json.Marshal(f)
}

// Decode parses stored fields, normalizing numbers.
func Decode(data []byte) (Fields, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return Normalize(raw), nil
}
