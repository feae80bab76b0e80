package thing

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// validate checks value against the type, enum and bounds of meta.
func validate(meta Metadata, value any) error {
	switch typ, _ := meta["type"].(string); typ {
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: want boolean, got %T", ErrInvalid, value)
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: want string, got %T", ErrInvalid, value)
		}
	case "number", "integer":
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%w: want %s, got %T", ErrInvalid, typ, value)
		}
		if typ == "integer" && f != math.Trunc(f) {
			return fmt.Errorf("%w: want integer, got %v", ErrInvalid, f)
		}
		if lo, ok := toFloat(meta["minimum"]); ok && f < lo {
			return fmt.Errorf("%w: %v below minimum %v", ErrInvalid, f, lo)
		}
		if hi, ok := toFloat(meta["maximum"]); ok && f > hi {
			return fmt.Errorf("%w: %v above maximum %v", ErrInvalid, f, hi)
		}
	}

	if enum := asList(meta["enum"]); enum != nil && !slices.Contains(enum, value) {
		return fmt.Errorf("%w: %v not in %v", ErrInvalid, value, enum)
	}
	return nil
}

// validateInput checks action input against the "input" object schema in meta.
func validateInput(meta Metadata, input map[string]any) error {
	schema := asMap(meta["input"])
	if schema == nil {
		return nil
	}
	for _, req := range asList(schema["required"]) {
		key, _ := req.(string)
		if _, ok := input[key]; !ok {
			return fmt.Errorf("%w: missing input %q", ErrInvalid, key)
		}
	}
	props := asMap(schema["properties"])
	for key, v := range input {
		ps := asMap(props[key])
		if ps == nil {
			continue
		}
		if err := validate(ps, v); err != nil {
			return fmt.Errorf("input %q: %w", key, err)
		}
	}
	return nil
}

// normalize stores numbers as float64 (int for "integer") so values decoded
// from JSON compare equal to values pushed from the device.
func normalize(meta Metadata, value any) any {
	typ, _ := meta["type"].(string)
	if typ != "number" && typ != "integer" {
		return value
	}
	f, ok := toFloat(value)
	if !ok {
		return value
	}
	if typ == "integer" {
		return int(f)
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v any) Metadata {
	switch m := v.(type) {
	case Metadata:
		return m
	case map[string]any:
		return m
	}
	return nil
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return nil
}
