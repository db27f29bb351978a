package rpc

import "encoding/json"

// parseArgs unmarshals a tools/call request's raw arguments into a map,
// treating an absent or empty arguments object as no arguments at all.
func parseArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalidArgs("invalid arguments: %v", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func getString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", invalidArgs("%q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", invalidArgs("%q must be a non-empty string", key)
	}
	return s, nil
}

func getInt(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return fallback
	}
	return int(f)
}

func getFloat(args map[string]any, key string, fallback float64) float64 {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	return f
}

func getBool(args map[string]any, key string, fallback bool) bool {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

func getIntPtr(args map[string]any, key string) *int64 {
	v, ok := args[key]
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}
