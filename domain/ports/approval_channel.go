package ports

import (
	"context"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

// DecisionFunc delivers a human decision for a manifest. It maps 1:1
// onto the protocol's decide operation.
type DecisionFunc func(ctx context.Context, manifestID string, approved bool) error

// ApprovalChannel surfaces pending manifests to a human. Notify must
// not block on the human; the answer comes back through decide.
type ApprovalChannel interface {
	Notify(ctx context.Context, req entities.ApprovalRequest, decide DecisionFunc) error
}
