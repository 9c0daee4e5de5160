package ports

import "github.com/sentinel-dev/sentinel/domain/entities"

// PolicyParser decodes a policy document.
type PolicyParser interface {
	// Parse decodes data into a PolicyConfig without applying defaults.
	Parse(data []byte) (*entities.PolicyConfig, error)

	// Document decodes data into generic JSON values for schema
	// validation.
	Document(data []byte) (any, error)
}
