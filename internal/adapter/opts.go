package adapter

import "fmt"

// Option helpers for the map[string]any blocks adapter factories receive.
// YAML hands us strings, ints, floats and bools; numbers may arrive as either
// int or float64 depending on how they were written.

// OptString returns cfg[key] as a string, or def when absent.
func OptString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

// OptInt returns cfg[key] as an int, widening float64, or def when absent.
func OptInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// OptFloat returns cfg[key] as a float64, or def when absent.
func OptFloat(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// OptBool returns cfg[key] as a bool, or def when absent.
func OptBool(cfg map[string]any, key string, def bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

// OptStrings returns cfg[key] as a string slice. YAML lists decode to []any;
// a non-string element is an error since a silent skip would hide typos in
// filter lists.
func OptStrings(cfg map[string]any, key string) ([]string, error) {
	raw, ok := cfg[key]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("adapter: option %q is %T, want list", key, raw)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("adapter: option %q[%d] is %T, want string", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// RequireString returns cfg[key] as a string or an error when absent or
// empty. Use for options without a sensible default.
func RequireString(cfg map[string]any, key string) (string, error) {
	s := OptString(cfg, key, "")
	if s == "" {
		return "", fmt.Errorf("adapter: option %q is required", key)
	}
	return s, nil
}
