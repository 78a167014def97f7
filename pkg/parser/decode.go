package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode attempts the supported textual encodings in order: strict JSON
// first, then YAML, which covers line-oriented key:value payloads. The
// payload must decode to a mapping; scalars and top-level lists are decode
// errors. Null values survive decoding as nil entries so callers can tell
// null from missing.
func Decode(payload string) (map[string]any, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}

	jsonFields, jsonErr := decodeJSON(trimmed)
	if jsonErr == nil {
		return jsonFields, nil
	}

	yamlFields, yamlErr := decodeYAML(trimmed)
	if yamlErr == nil {
		return yamlFields, nil
	}

	// Report the JSON error: it is the primary encoding and its message
	// names the exact offset of the problem.
	return nil, jsonErr
}

func decodeJSON(payload string) (map[string]any, error) {
	var value any
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return nil, err
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload must be a JSON object, got %T", value)
	}
	return fields, nil
}

func decodeYAML(payload string) (map[string]any, error) {
	var value any
	if err := yaml.Unmarshal([]byte(payload), &value); err != nil {
		return nil, err
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload must be a mapping, got %T", value)
	}
	return normalizeYAMLMap(fields), nil
}

// normalizeYAMLMap aligns YAML-decoded values with JSON conventions so the
// schema validator sees one shape: nested maps become map[string]any and
// integer scalars stay int.
func normalizeYAMLMap(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return normalizeYAMLMap(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalizeYAMLValue(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = normalizeYAMLValue(elem)
		}
		return out
	default:
		return value
	}
}
