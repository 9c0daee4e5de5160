package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentinel-dev/sentinel/hostfuncs"
	"github.com/sentinel-dev/sentinel/internal/abi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultModuleName is the import module guests link the tools from.
const DefaultModuleName = "sentinel"

// MemoryChecker reserves guest memory against the session ceiling.
type MemoryChecker interface {
	CheckMemory(ctx context.Context, bytes uint64) error
}

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	// Memory, when set, is consulted before a response is copied into
	// guest memory.
	Memory MemoryChecker

	Logger *slog.Logger

	// ModuleName is the host module name (default: "sentinel").
	ModuleName string

	// CustomHandlers are exported next to the registry handlers.
	CustomHandlers []CustomHandler

	// MaxRequestSize limits the size of requests read from guest memory.
	MaxRequestSize uint32
}

// CustomHandler is a wazero function that does not use the packed i64
// request/response convention.
type CustomHandler struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name.
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxRequestSize sets the maximum request size read from guest memory.
func WithMaxRequestSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxRequestSize = size
	}
}

// WithMemoryChecker charges every response against m before it is
// written into the guest.
func WithMemoryChecker(m MemoryChecker) AdapterOption {
	return func(c *AdapterConfig) {
		c.Memory = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithCustomHandler adds a custom wazero handler.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName:     DefaultModuleName,
		MaxRequestSize: hostfuncs.DefaultMaxRequestSize,
		Logger:         slog.Default(),
	}
}

// RegisterWithRuntime instantiates a host module exporting every
// handler in registry. Each export has the signature (i64) -> i64: the
// argument packs the request pointer and length, the result packs the
// response written through the guest's "allocate" export.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, registry *hostfuncs.HandlerRegistry, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &adapter{config: cfg, registry: registry, logger: cfg.Logger.With("target", "sentinel::wasm")}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	for _, name := range registry.Names() {
		funcName := name
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				stack[0] = a.call(ctx, mod, funcName, stack[0])
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			Export(funcName)
	}
	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module %q: %w", cfg.ModuleName, err)
	}
	return nil
}

type adapter struct {
	registry *hostfuncs.HandlerRegistry
	logger   *slog.Logger
	config   AdapterConfig
}

// call serves one guest invocation. Failures are answered with an
// ErrorResponse so the guest never traps on a denied action.
func (a *adapter) call(ctx context.Context, mod api.Module, name string, packed uint64) uint64 {
	ctx = hostfuncs.WithGuest(ctx, GuestName(ctx, mod))
	if !abi.Valid(packed) {
		return a.write(ctx, mod, hostfuncs.NewValidationError("null request pointer").ToJSON())
	}
	ptr, length := abi.UnpackPtrLen(packed)

	if length > a.config.MaxRequestSize {
		msg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, a.config.MaxRequestSize)
		a.logger.WarnContext(ctx, msg, "function", name)
		return a.write(ctx, mod, hostfuncs.NewValidationError(msg).ToJSON())
	}

	view, ok := mod.Memory().Read(ptr, length)
	if !ok {
		a.logger.ErrorContext(ctx, "request outside guest memory", "function", name, "ptr", ptr, "len", length)
		return a.write(ctx, mod, hostfuncs.NewValidationError("request outside guest memory").ToJSON())
	}
	// The view aliases guest memory, which the response allocation may move.
	request := make([]byte, len(view))
	copy(request, view)

	response, err := a.registry.Invoke(ctx, name, request)
	if err != nil {
		a.logger.ErrorContext(ctx, "host function failed", "function", name, "error", err)
		response = hostfuncs.NewInternalError(err.Error()).ToJSON()
	}

	if a.config.Memory != nil {
		if err := a.config.Memory.CheckMemory(ctx, uint64(len(response))); err != nil {
			response = hostfuncs.FromError(err).ToJSON()
		}
	}
	return a.write(ctx, mod, response)
}

// write copies data into memory obtained from the guest allocator and
// returns the packed pointer, or 0 when the guest cannot take it.
func (a *adapter) write(ctx context.Context, mod api.Module, data []byte) uint64 {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		a.logger.ErrorContext(ctx, "guest module missing 'allocate' export")
		return 0
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		a.logger.ErrorContext(ctx, "guest allocate failed", "size", len(data), "error", err)
		return 0
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: WASM32 pointers are always 32-bit

	if !mod.Memory().Write(ptr, data) {
		a.logger.ErrorContext(ctx, "response outside guest memory", "ptr", ptr, "len", len(data))
		return 0
	}
	return abi.PackPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by the registry's response size
}
