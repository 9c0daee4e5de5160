package ports

import (
	"context"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// Authorizer is the boundary the tool layer calls before every
// privileged primitive.
type Authorizer interface {
	// Authorize runs the full gate: budget, token, classification and,
	// above the threshold, the signed manifest.
	Authorize(ctx context.Context, req entities.ActionRequest) (*entities.Authorization, error)

	// RequestCapability returns a token id for kind/resource.
	RequestCapability(ctx context.Context, kind entities.ActionKind, resource string) (string, error)

	// ReleaseCapability revokes a token held by the agent.
	ReleaseCapability(ctx context.Context, tokenID string)

	// SubmitForApproval creates a manifest and returns its id.
	SubmitForApproval(ctx context.Context, description string, parametersJSON string, risk entities.RiskLevel) (string, error)

	// AwaitApproval blocks until the manifest is decided, expires or the
	// session ends, then consumes it on approval.
	AwaitApproval(ctx context.Context, manifestID string) error

	// ApprovalStatus reports a manifest's state without side effects.
	ApprovalStatus(manifestID string) (entities.ManifestStatus, error)

	// CheckBudget fails once the session budget is exhausted. It
	// charges nothing.
	CheckBudget(ctx context.Context) error

	// CheckMemory fails when an allocation of bytes would cross the
	// memory ceiling.
	CheckMemory(ctx context.Context, bytes uint64) error

	// Policy returns the session policy document.
	Policy() *entities.PolicyConfig
}
