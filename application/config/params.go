// Package config provides typed access to action parameters.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/sentinel-dev/sentinel/domain/errors"
)

// Params is a decoded action parameter object.
type Params map[string]any

// ParseParams decodes a JSON object. Empty input yields empty Params.
func ParseParams(raw json.RawMessage) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &errors.ConfigError{Field: "parameters", Err: fmt.Errorf("parameters must be a JSON object: %w", err)}
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// String returns the string at key, reporting whether it was present.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Int returns the number at key truncated to an int.
func (p Params) Int(key string) (int, bool) {
	switch n := p[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// Bool returns the boolean at key.
func (p Params) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// StringSlice returns the array at key when every element is a string.
func (p Params) StringSlice(key string) ([]string, bool) {
	arr, ok := p[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// RequireString returns the string at key or a ConfigError naming it.
func (p Params) RequireString(key string) (string, error) {
	s, ok := p.String(key)
	if !ok {
		return "", &errors.ConfigError{
			Field: key,
			Err:   fmt.Errorf("required string field '%s' is missing or not a string", key),
		}
	}
	return s, nil
}

// StringDefault returns the string at key or def.
func (p Params) StringDefault(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// IntDefault returns the number at key or def.
func (p Params) IntDefault(key string, def int) int {
	if i, ok := p.Int(key); ok {
		return i
	}
	return def
}

// Keys returns the parameter names, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lines renders one "key: value" line per parameter, sorted by key.
// Values longer than maxValue are truncated; zero disables truncation.
func (p Params) Lines(maxValue int) []string {
	lines := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		var v string
		switch val := p[k].(type) {
		case string:
			v = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				v = fmt.Sprint(val)
			} else {
				v = string(b)
			}
		}
		v = strings.ReplaceAll(v, "\n", `\n`)
		if maxValue > 0 && len(v) > maxValue {
			v = v[:maxValue] + "..."
		}
		lines = append(lines, k+": "+v)
	}
	return lines
}
