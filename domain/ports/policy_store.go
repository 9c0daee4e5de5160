package ports

import "github.com/sentinel-dev/sentinel/domain/entities"

// PolicyStore loads and persists the policy document.
type PolicyStore interface {
	// Load reads, validates and defaults the policy. A missing file
	// yields the default deny-everything policy.
	Load() (*entities.PolicyConfig, error)

	// Save persists the policy.
	Save(cfg *entities.PolicyConfig) error

	// ConfigPath returns the path to the backing store (for user messaging).
	ConfigPath() string
}
