package crdt

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/automerge/automerge-go"
)

// normalize converts a primitive value into the shape it has after an update
// round trip, so local and remote replicas hold identical values.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case float32:
		return float64(val), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			n, err := normalize(inner)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = inner
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			n, err := normalize(inner)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = inner
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func normalizeAttrs(attrs map[string]any) (map[string]any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		n, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func copyAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// encodeValue turns a normalized primitive into what automerge stores.
// Structured values travel as JSON bytes so a concurrent write replaces them
// whole.
func encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, float64:
		return val, nil
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// encodeAttrs encodes every non-nil attribute value.
func encodeAttrs(attrs map[string]any) (map[string]any, error) {
	var out map[string]any
	for k, v := range attrs {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		enc, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]any, len(attrs))
		}
		out[k] = enc
	}
	return out, nil
}

// decodeValue reads a stored primitive back into its normalized shape.
func decodeValue(v *automerge.Value) (any, bool) {
	switch v.Kind() {
	case automerge.KindStr:
		return v.Str(), true
	case automerge.KindBool:
		return v.Bool(), true
	case automerge.KindFloat64:
		return v.Float64(), true
	case automerge.KindInt64:
		return float64(v.Int64()), true
	case automerge.KindUint64:
		return float64(v.Uint64()), true
	case automerge.KindBytes:
		var out any
		if err := json.Unmarshal(v.Bytes(), &out); err != nil || out == nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}
