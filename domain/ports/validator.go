package ports

import "github.com/sentinel-dev/sentinel/domain/entities"

// SchemaRegistry manages JSON schemas generated from Go types.
type SchemaRegistry interface {
	// Register generates and stores the schema of model under name.
	Register(name string, model any) error

	// GetSchema retrieves a registered schema.
	GetSchema(name string) (string, bool)

	// List returns all registered names.
	List() []string
}

// DocumentValidator checks decoded JSON documents against registered
// schemas.
type DocumentValidator interface {
	Validate(name string, doc any) (*entities.ValidationResult, error)
}
