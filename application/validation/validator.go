// Package validation checks documents against the schemas of a
// ports.SchemaRegistry.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
)

const resourcePrefix = "mem://sentinel/schemas/"

type compiled struct {
	schema *jsonschema.Schema
	source string
}

// SchemaValidator implements ports.DocumentValidator using JSON schemas.
type SchemaValidator struct {
	registry ports.SchemaRegistry
	cache    map[string]compiled
	mu       sync.Mutex
}

var _ ports.DocumentValidator = (*SchemaValidator)(nil)

// NewSchemaValidator creates a new validator.
func NewSchemaValidator(registry ports.SchemaRegistry) *SchemaValidator {
	return &SchemaValidator{registry: registry, cache: make(map[string]compiled)}
}

// Validate checks doc against the schema registered under name. The
// returned error is reserved for a missing or broken schema; document
// problems are reported in the result.
func (v *SchemaValidator) Validate(name string, doc any) (*entities.ValidationResult, error) {
	sch, err := v.compile(name)
	if err != nil {
		return nil, err
	}

	result := &entities.ValidationResult{Valid: true}
	obj, err := normalize(doc)
	if err != nil {
		result.AddError(name, fmt.Sprintf("failed to prepare validation object: %v", err))
		return result, nil
	}

	if err := sch.Validate(obj); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			result.AddError(name, err.Error())
			return result, nil
		}
		for _, leaf := range leaves(ve) {
			result.AddError(fieldName(leaf.InstanceLocation), leaf.Message)
		}
	}
	return result, nil
}

func (v *SchemaValidator) compile(name string) (*jsonschema.Schema, error) {
	source, ok := v.registry.GetSchema(name)
	if !ok {
		return nil, fmt.Errorf("no schema registered for %s", name)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.cache[name]; ok && c.source == source {
		return c.schema, nil
	}

	url := resourcePrefix + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource for %s: %w", name, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	v.cache[name] = compiled{schema: sch, source: source}
	return sch, nil
}

// normalize turns doc into the generic shape produced by encoding/json.
func normalize(doc any) (any, error) {
	var raw []byte
	switch d := doc.(type) {
	case []byte:
		raw = d
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// fieldName renders a JSON pointer as a dotted path.
func fieldName(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	if p == "" {
		return "(root)"
	}
	p = strings.ReplaceAll(p, "~1", "/")
	p = strings.ReplaceAll(p, "~0", "~")
	return strings.ReplaceAll(p, "/", ".")
}
