// Package policyfile loads and persists the policy document.
package policyfile

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sentinel-dev/sentinel/application/schema"
	"github.com/sentinel-dev/sentinel/application/validation"
	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/domain/ports"
	"github.com/sentinel-dev/sentinel/infrastructure/parser"
	"gopkg.in/yaml.v3"
)

// validate is a package-level singleton; building a validator is
// expensive.
var validate = validator.New()

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	validator ports.DocumentValidator
	path      string      // Path to the policy file
	dirPerm   os.FileMode // Permission for created directories
	filePerm  os.FileMode // Permission for the policy file
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".sentinel", "policy.yaml"),
		dirPerm:  0o755,
		filePerm: 0o600, // User-only read/write (secure default)
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the policy file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.path = path
	}
}

// WithFilePermissions sets the file permissions for saved policies.
// Default is 0o600 (user-only).
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the permissions of created directories.
// Default is 0o755.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// WithValidator replaces the schema validator used on raw documents.
func WithValidator(v ports.DocumentValidator) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.validator = v
	}
}

// FileStore provides file-based persistence for the policy document.
type FileStore struct {
	config fileStoreConfig
}

var _ ports.PolicyStore = (*FileStore)(nil)

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.validator == nil {
		cfg.validator = DefaultValidator()
	}
	return &FileStore{config: cfg}
}

// DefaultValidator returns a validator that knows the policy schema.
func DefaultValidator() ports.DocumentValidator {
	registry := schema.NewRegistry()
	// The policy type is static; registration into a fresh registry
	// cannot collide.
	_ = registry.Register(schema.PolicySchemaName, &entities.PolicyConfig{})
	return validation.NewSchemaValidator(registry)
}

// Load reads, validates and defaults the policy. A missing file yields
// the default deny-everything policy.
func (s *FileStore) Load() (*entities.PolicyConfig, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return entities.DefaultPolicyConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	cfg, _, err := Decode(s.config.path, data, s.config.validator)
	return cfg, err
}

// Save persists the policy in the format implied by the file extension.
func (s *FileStore) Save(cfg *entities.PolicyConfig) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(s.config.path)) {
	case ".json", ".jsonc":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	dir := filepath.Dir(s.config.path)
	if err := os.MkdirAll(dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}

// Decode runs the loading pipeline on data read from path: schema
// validation of the raw document, decoding, struct validation, then
// defaults. The returned result carries every schema finding; err is a
// *errors.ConfigError for the first one.
func Decode(path string, data []byte, v ports.DocumentValidator) (*entities.PolicyConfig, *entities.ValidationResult, error) {
	p := parser.ForPath(path)

	doc, err := p.Document(data)
	if err != nil {
		return nil, nil, &errors.ConfigError{Err: err}
	}

	result := &entities.ValidationResult{Valid: true}
	if v != nil {
		result, err = v.Validate(schema.PolicySchemaName, doc)
		if err != nil {
			return nil, nil, &errors.SchemaError{Type: schema.PolicySchemaName, Err: err}
		}
		if !result.Valid {
			first := result.Errors[0]
			return nil, result, &errors.ConfigError{Field: first.Field, Err: stderrors.New(result.Error())}
		}
	}

	cfg, err := p.Parse(data)
	if err != nil {
		result.AddError("(root)", err.Error())
		return nil, result, &errors.ConfigError{Err: err}
	}

	if err := validate.Struct(cfg); err != nil {
		field := ""
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field = fieldErrs[0].Namespace()
			for _, fe := range fieldErrs {
				result.AddError(fe.Namespace(), fe.Error())
			}
		} else {
			result.AddError("(root)", err.Error())
		}
		return nil, result, &errors.ConfigError{Field: field, Err: err}
	}

	cfg.ApplyDefaults()
	return cfg, result, nil
}
