package hostfuncs

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/sentinel-dev/sentinel/domain/ports"
)

// HandlerRegistry maps tool names to their wrapped handlers. The set of
// tools is fixed at construction; only the call counters change.
type HandlerRegistry struct {
	tools map[string]*tool
	names []string
}

type tool struct {
	handler ByteHandler
	calls   atomic.Uint64
	typed   bool
}

type registryBuilder struct {
	handlers   map[string]ByteHandler
	models     map[string]any
	schemas    ports.SchemaRegistry
	middleware []Middleware
	errs       []error
}

// NewRegistry builds a registry from opts. It fails on an empty or
// duplicate tool name, and on a request schema the schema registry
// refuses.
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithSchemaRegistry(schemas),
//	    tools.Register(),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{
		handlers: map[string]ByteHandler{},
		models:   map[string]any{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	names := slices.Sorted(maps.Keys(b.handlers))
	if b.schemas != nil {
		for _, name := range names {
			model, ok := b.models[name]
			if !ok {
				continue
			}
			if err := b.schemas.Register(name, model); err != nil {
				return nil, fmt.Errorf("request schema for %q: %w", name, err)
			}
		}
	}

	r := &HandlerRegistry{tools: make(map[string]*tool, len(names)), names: names}
	for _, name := range names {
		h := b.handlers[name]
		// The first middleware ends up outermost.
		for i := len(b.middleware) - 1; i >= 0; i-- {
			h = b.middleware[i](h)
		}
		_, typed := b.models[name]
		r.tools[name] = &tool{handler: h, typed: typed}
	}
	return r, nil
}

// Invoke runs the named tool. Unknown names answer NOT_FOUND rather
// than failing, so the guest always gets JSON back.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	t, ok := r.tools[name]
	if !ok {
		return NewNotFoundError(name).ToJSON(), nil
	}
	t.calls.Add(1)
	return t.handler(withCall(ctx, name), payload)
}

// Has reports whether name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *HandlerRegistry) Names() []string {
	return append([]string{}, r.names...)
}

// Typed reports whether name was registered with a request type.
func (r *HandlerRegistry) Typed(name string) bool {
	t, ok := r.tools[name]
	return ok && t.typed
}

// Calls returns how often each tool has been invoked. Tools never
// called are omitted.
func (r *HandlerRegistry) Calls() map[string]uint64 {
	out := make(map[string]uint64)
	for name, t := range r.tools {
		if n := t.calls.Load(); n > 0 {
			out[name] = n
		}
	}
	return out
}

func (b *registryBuilder) add(name string, h ByteHandler, model any, typed bool) {
	switch {
	case name == "":
		b.errs = append(b.errs, fmt.Errorf("tool name cannot be empty"))
	case b.handlers[name] != nil:
		b.errs = append(b.errs, fmt.Errorf("duplicate tool name: %q", name))
	default:
		b.handlers[name] = h
		if typed {
			b.models[name] = model
		}
	}
}

// WithByteHandler registers a raw handler. It gets no request schema.
func WithByteHandler(name string, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		b.add(name, handler, nil, false)
	}
}

// WithHandler registers an infallible typed handler.
func WithHandler[Req any, Resp any](name string, fn HostFunc[Req, Resp]) RegistryOption {
	return func(b *registryBuilder) {
		var model Req
		b.add(name, NewJSONHandler(fn), model, true)
	}
}

// WithTool registers a typed handler that can fail. Req becomes the
// tool's request schema when a schema registry is configured.
func WithTool[Req any, Resp any](name string, fn ToolFunc[Req, Resp]) RegistryOption {
	return func(b *registryBuilder) {
		var model Req
		b.add(name, NewToolHandler(fn), model, true)
	}
}

// WithSchemaRegistry publishes every typed tool's request schema to r.
func WithSchemaRegistry(r ports.SchemaRegistry) RegistryOption {
	return func(b *registryBuilder) {
		b.schemas = r
	}
}

// WithMiddleware appends middleware. The first one added runs first.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
