// Package schema generates JSON schemas for the policy document and the
// tool request payloads.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/sentinel-dev/sentinel/domain/entities"
)

var (
	durationType  = reflect.TypeOf(entities.Duration(0))
	riskLevelType = reflect.TypeOf(entities.RiskLevel(0))
	thresholdType = reflect.TypeOf(entities.ApprovalThreshold(""))
	kindType      = reflect.TypeOf(entities.ActionKind(""))
	scopeModeType = reflect.TypeOf(entities.ScopeMode(""))
)

// durationPattern accepts what time.ParseDuration accepts for
// non-negative values.
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// mapType renders the domain's text-encoded types as constrained strings.
func mapType(t reflect.Type) *jsonschema.Schema {
	switch t {
	case durationType:
		return &jsonschema.Schema{Type: "string", Pattern: durationPattern, Description: "Go duration, e.g. 30s or 5m"}
	case riskLevelType:
		return &jsonschema.Schema{Type: "string", Enum: []any{"low", "medium", "high", "critical"}}
	case thresholdType:
		return &jsonschema.Schema{Type: "string", Enum: []any{"none", "all", "low", "medium", "high", "critical"}}
	case scopeModeType:
		return &jsonschema.Schema{Type: "string", Enum: []any{string(entities.ScopeModeExact), string(entities.ScopeModePattern)}}
	case kindType:
		kinds := entities.AllActionKinds()
		enum := make([]any, len(kinds))
		for i, k := range kinds {
			enum[i] = string(k)
		}
		return &jsonschema.Schema{Type: "string", Enum: enum}
	}
	return nil
}

// NewReflector returns the reflector every schema in this module is
// generated with: inline definitions, no unknown properties.
func NewReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
		DoNotReference: true,
		Anonymous:      true,
		Mapper:         mapType,
	}
}

// Reflect builds the schema of v.
func Reflect(v any) *jsonschema.Schema {
	s := NewReflector().Reflect(v)
	s.ID = jsonschema.EmptyID
	return s
}

// GenerateSchema creates an indented JSON schema from a Go struct.
func GenerateSchema(v any) ([]byte, error) {
	jsonBytes, err := json.MarshalIndent(Reflect(v), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return jsonBytes, nil
}

// PolicySchema returns the schema of the policy document.
func PolicySchema() ([]byte, error) {
	return GenerateSchema(&entities.PolicyConfig{})
}
