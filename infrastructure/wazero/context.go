package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/sentinel-dev/sentinel/hostfuncs"
)

// GuestName prefers a name already recorded with hostfuncs.WithGuest and
// falls back to the module name.
func GuestName(ctx context.Context, mod api.Module) string {
	if name, ok := hostfuncs.GuestFrom(ctx); ok {
		return name
	}
	return mod.Name()
}
