// Package parser decodes policy documents.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"gopkg.in/yaml.v3"
)

// YAMLParser implements ports.PolicyParser for YAML documents.
type YAMLParser struct{}

var _ ports.PolicyParser = (*YAMLParser)(nil)

// NewYAMLParser creates a new YAMLParser.
func NewYAMLParser() *YAMLParser {
	return &YAMLParser{}
}

// Parse unmarshals YAML bytes into a PolicyConfig. Unknown keys are
// rejected.
func (p *YAMLParser) Parse(data []byte) (*entities.PolicyConfig, error) {
	var cfg entities.PolicyConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &cfg, nil
}

// Document decodes YAML into the value shapes encoding/json produces.
func (p *YAMLParser) Document(data []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	// Round-trip through JSON so numbers become float64 and non-string
	// keys are reported.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("policy is not representable as JSON: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
