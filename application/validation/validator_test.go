package validation_test

import (
	"testing"

	"github.com/sentinel-dev/sentinel/application/schema"
	"github.com/sentinel-dev/sentinel/application/validation"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRegistry struct {
	schemas map[string]string
}

func (m *mockRegistry) Register(name string, model any) error { return nil }
func (m *mockRegistry) GetSchema(name string) (string, bool) {
	s, ok := m.schemas[name]
	return s, ok
}
func (m *mockRegistry) List() []string { return nil }

func TestSchemaValidator_Validate(t *testing.T) {
	registry := &mockRegistry{
		schemas: map[string]string{
			"fs_read": `{"type": "object", "required": ["path"], "properties": {"path": {"type": "string"}}}`,
			"broken":  `{"type": 12}`,
		},
	}
	validator := validation.NewSchemaValidator(registry)

	t.Run("Valid Document", func(t *testing.T) {
		res, err := validator.Validate("fs_read", map[string]any{"path": "/tmp/x"})
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("Raw JSON", func(t *testing.T) {
		res, err := validator.Validate("fs_read", []byte(`{"path": 3}`))
		require.NoError(t, err)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "path", res.Errors[0].Field)
	})

	t.Run("Missing Required Field", func(t *testing.T) {
		res, err := validator.Validate("fs_read", map[string]any{})
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Equal(t, "(root)", res.Errors[0].Field)
	})

	t.Run("Unknown Schema", func(t *testing.T) {
		_, err := validator.Validate("exec_command", map[string]any{})
		assert.ErrorContains(t, err, "no schema registered")
	})

	t.Run("Broken Schema", func(t *testing.T) {
		_, err := validator.Validate("broken", map[string]any{})
		assert.ErrorContains(t, err, "invalid schema")
	})
}

func TestSchemaValidator_PolicyDocument(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(schema.PolicySchemaName, &entities.PolicyConfig{}))
	validator := validation.NewSchemaValidator(registry)

	tests := []struct {
		name   string
		doc    string
		valid  bool
		fields []string
	}{
		{
			name:  "minimal",
			doc:   `{"filesystem": {"read": {"allow": ["/data/**"]}}}`,
			valid: true,
		},
		{
			name:  "full hitl block",
			doc:   `{"hitl": {"threshold": "medium", "approval_timeout": "90s"}, "tokens": {"scope_mode": "pattern", "default_ttl": "5m"}}`,
			valid: true,
		},
		{
			name:   "unknown top-level key",
			doc:    `{"filesytem": {}}`,
			fields: []string{"(root)"},
		},
		{
			name:   "bad threshold",
			doc:    `{"hitl": {"threshold": "sometimes"}}`,
			fields: []string{"hitl.threshold"},
		},
		{
			name:   "bad duration",
			doc:    `{"hitl": {"approval_timeout": "ten minutes"}}`,
			fields: []string{"hitl.approval_timeout"},
		},
		{
			name:   "risk rule without level",
			doc:    `{"risk": {"rules": [{"kind": "shell_exec", "pattern": "rm *"}]}}`,
			fields: []string{"risk.rules.0"},
		},
		{
			name:   "allow list of wrong type",
			doc:    `{"network": {"urls": {"allow": "https://example.com"}}}`,
			fields: []string{"network.urls.allow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := validator.Validate(schema.PolicySchemaName, []byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.Error())
			for _, f := range tt.fields {
				found := false
				for _, e := range res.Errors {
					if e.Field == f {
						found = true
					}
				}
				assert.True(t, found, "expected error on %s, got %s", f, res.Error())
			}
		})
	}
}
