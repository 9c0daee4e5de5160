package hostfuncs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Call describes one tool invocation. The registry attaches it to the
// context before any middleware runs.
type Call struct {
	Started time.Time
	Tool    string
	ID      string
	Guest   string
}

type contextKey int

const (
	callKey contextKey = iota
	guestKey
)

// WithGuest records the calling guest's name. The wasm adapter sets it
// before invoking the registry.
func WithGuest(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, guestKey, name)
}

// GuestFrom returns the guest name set by WithGuest.
func GuestFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(guestKey).(string)
	return name, ok && name != ""
}

// CallFrom returns the invocation attached by the registry.
func CallFrom(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey).(Call)
	return c, ok
}

// withCall starts a new invocation of tool. A context already carrying
// a call for the same tool is returned unchanged so nested dispatch
// keeps one call id.
func withCall(ctx context.Context, tool string) context.Context {
	if c, ok := CallFrom(ctx); ok && c.Tool == tool {
		return ctx
	}
	guest, _ := GuestFrom(ctx)
	return context.WithValue(ctx, callKey, Call{
		Started: time.Now(),
		Tool:    tool,
		ID:      uuid.NewString(),
		Guest:   guest,
	})
}

// functionName returns the invoked tool name, or "unknown".
func functionName(ctx context.Context) string {
	if c, ok := CallFrom(ctx); ok {
		return c.Tool
	}
	return "unknown"
}
