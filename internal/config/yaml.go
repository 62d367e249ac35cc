package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes funnels YAML configs through the same strict JSON
// decoder as native JSON ones, so unknown-field rejection works for both
// formats. The format is decided by file extension; anything that is not
// .yaml/.yml is passed through as JSON.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("parse yaml: %w", err)
	}

	j, err := json.Marshal(jsonSafe(v))
	if err != nil {
		return nil, "yaml", fmt.Errorf("encode yaml as json: %w", err)
	}
	return j, "yaml", nil
}

// jsonSafe rewrites YAML's any-keyed maps into string-keyed ones, which is
// all json.Marshal accepts.
func jsonSafe(in any) any {
	switch x := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = jsonSafe(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = jsonSafe(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = jsonSafe(x[i])
		}
		return x
	default:
		return in
	}
}
