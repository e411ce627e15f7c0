package hwrpc

import "fmt"

// Results decode from JSON into generic values: numbers arrive as float64,
// objects as map[string]any. These helpers narrow them to the types the
// control plane actually exchanges.

// AsFloat64 converts a decoded result to float64.
func AsFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("hwrpc: result is %T, not a number", v)
	}
}

// AsString converts a decoded result to string.
func AsString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("hwrpc: result is %T, not a string", v)
	}
	return s, nil
}

// AsStringMap converts a decoded result to map[string]string. Used for
// EEPROM blobs, which the service models as a flat key to value mapping.
func AsStringMap(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, mv := range m {
			s, ok := mv.(string)
			if !ok {
				return nil, fmt.Errorf("hwrpc: map entry %q is %T, not a string", k, mv)
			}
			out[k] = s
		}
		return out, nil
	case nil:
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("hwrpc: result is %T, not a string map", v)
	}
}
