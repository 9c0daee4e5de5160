package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/sentinel-dev/sentinel/domain/ports"
)

// PolicySchemaName is the registry name of the policy document schema.
const PolicySchemaName = "policy"

// registryConfig holds configuration for the Registry.
type registryConfig struct {
	strictMode bool // Fail on duplicate registrations
}

func defaultRegistryConfig() registryConfig {
	return registryConfig{
		strictMode: true, // Secure default: prevent accidental overwrites
	}
}

// RegistryOption configures a Registry instance.
type RegistryOption func(*registryConfig)

// WithStrictMode enables/disables strict mode for duplicate registrations.
// Default is true (fail on duplicates). Disable only for testing or hot-reloading.
func WithStrictMode(enabled bool) RegistryOption {
	return func(c *registryConfig) {
		c.strictMode = enabled
	}
}

// Registry implements ports.SchemaRegistry.
type Registry struct {
	config  registryConfig
	schemas map[string]string
	mu      sync.RWMutex
}

var _ ports.SchemaRegistry = (*Registry)(nil)

// NewRegistry creates a new Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := defaultRegistryConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{config: cfg, schemas: make(map[string]string)}
}

// Register adds a schema generated from a Go struct.
func (r *Registry) Register(name string, model any) error {
	data, err := json.Marshal(Reflect(model))
	if err != nil {
		return fmt.Errorf("failed to marshal schema for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[name]; exists && r.config.strictMode {
		return fmt.Errorf("schema %q already registered", name)
	}
	r.schemas[name] = string(data)
	return nil
}

// GetSchema retrieves a registered schema.
func (r *Registry) GetSchema(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// List returns all registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
