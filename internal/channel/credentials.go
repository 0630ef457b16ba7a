package channel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeConfigMap decodes a JSON credentials blob, treating null or empty input as an empty map.
func DecodeConfigMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// EncodeConfigMap encodes credentials for storage.
func EncodeConfigMap(cfg map[string]any) ([]byte, error) {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return json.Marshal(cfg)
}

// ReadString returns the first non-blank value among keys, stringifying non-string values.
func ReadString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		var s string
		switch v := value.(type) {
		case string:
			s = v
		case float64:
			s = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
		default:
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
