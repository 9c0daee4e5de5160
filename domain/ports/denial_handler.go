package ports

import "github.com/sentinel-dev/sentinel/domain/entities"

// DenialHandler is called when the policy denies a resource. It must
// report enough (kind, resource, reason) to diagnose an over-restrictive
// policy.
type DenialHandler interface {
	OnDenial(kind entities.ActionKind, resource string, reason string)
}
