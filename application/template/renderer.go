// Package template renders user-supplied approval prompts.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

type templateConfig struct {
	name   string
	strict bool // fail on missing keys
}

func defaultTemplateConfig() templateConfig {
	return templateConfig{name: "prompt", strict: true}
}

// TemplateOption configures an Engine.
type TemplateOption func(*templateConfig)

// WithStrict enables or disables strict mode for missing keys. When
// enabled (default), rendering fails if a referenced key is missing.
func WithStrict(enabled bool) TemplateOption {
	return func(c *templateConfig) {
		c.strict = enabled
	}
}

// WithName names the template in parse errors.
func WithName(name string) TemplateOption {
	return func(c *templateConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// Engine is a parsed text/template. It is safe for concurrent use.
type Engine struct {
	tmpl   *template.Template
	config templateConfig
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"truncate": func(n int, s string) string {
		r := []rune(s)
		if n <= 0 || len(r) <= n {
			return s
		}
		return string(r[:n]) + "…"
	},
}

// New parses text once so a broken template is reported at startup.
func New(text string, opts ...TemplateOption) (*Engine, error) {
	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tmpl := template.New(cfg.name).Funcs(funcs)
	if cfg.strict {
		tmpl = tmpl.Option("missingkey=error")
	}
	tmpl, err := tmpl.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", cfg.name, err)
	}
	return &Engine{tmpl: tmpl, config: cfg}, nil
}

// Render executes the template against data.
func (e *Engine) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", e.config.name, err)
	}
	return buf.String(), nil
}
