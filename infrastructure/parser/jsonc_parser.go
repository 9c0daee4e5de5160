package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/tidwall/jsonc"
)

// JSONCParser implements ports.PolicyParser for JSON documents that may
// carry comments and trailing commas.
type JSONCParser struct{}

var _ ports.PolicyParser = (*JSONCParser)(nil)

// NewJSONCParser creates a new JSONCParser.
func NewJSONCParser() *JSONCParser {
	return &JSONCParser{}
}

// Parse strips comments and decodes into a PolicyConfig. Unknown keys
// are rejected.
func (p *JSONCParser) Parse(data []byte) (*entities.PolicyConfig, error) {
	var cfg entities.PolicyConfig
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return &cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &cfg, nil
}

// Document strips comments and decodes generic JSON values.
func (p *JSONCParser) Document(data []byte) (any, error) {
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return map[string]any{}, nil
	}
	var doc any
	if err := json.Unmarshal(clean, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return doc, nil
}

// ForPath picks the parser for a policy file name: .json and .jsonc are
// JSON with comments, everything else is YAML.
func ForPath(path string) ports.PolicyParser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return NewJSONCParser()
	default:
		return NewYAMLParser()
	}
}
