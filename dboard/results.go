package dboard

import "fmt"

// FloatResult is the outcome of a numeric operation that may be stubbed.
// Stubbed marks a fallback value from an intentionally unwired hardware
// path; it is how callers tell "really executed" from "known
// incompleteness". Real failures are errors, never stubbed results.
type FloatResult struct {
	Value   float64
	Stubbed bool
}

// StringResult is the string counterpart of FloatResult.
type StringResult struct {
	Value   string
	Stubbed bool
}

// Remote results arrive as decoded JSON values. The converters below keep
// this package independent of any particular RPC client implementation.

func resultFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("remote result is %T, not a number", v)
	}
}

func resultString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("remote result is %T, not a string", v)
	}
	return s, nil
}

func resultStringMap(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, mv := range m {
			s, ok := mv.(string)
			if !ok {
				return nil, fmt.Errorf("remote map entry %q is %T, not a string", k, mv)
			}
			out[k] = s
		}
		return out, nil
	case nil:
		return map[string]string{}, nil
	default:
		return nil, fmt.Errorf("remote result is %T, not a string map", v)
	}
}

func requestStringMap(v any) (map[string]string, error) {
	m, err := resultStringMap(v)
	if err != nil {
		return nil, fmt.Errorf("eeprom blob: %w", err)
	}
	return m, nil
}
