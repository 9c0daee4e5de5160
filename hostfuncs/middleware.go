package hostfuncs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinel-dev/sentinel/domain/ports"
)

// Middleware is a function that wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next ByteHandler) ByteHandler

// RegistryOption is a functional option for configuring a HandlerRegistry.
type RegistryOption func(*registryBuilder)

// BudgetChecker reports whether the session may still spend.
type BudgetChecker interface {
	CheckBudget(ctx context.Context) error
}

// PanicRecoveryMiddleware returns a middleware that catches panics and converts
// them to structured ErrorResponse JSON instead of crashing the host.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = NewPanicError(r).ToJSON()
					err = nil // Return JSON error, not Go error
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware logs every invocation at debug level and failures
// at warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("target", "sentinel::tools")
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			call, ok := CallFrom(ctx)
			if !ok {
				call = Call{Tool: "unknown", Started: time.Now()}
			}
			log := logger.With("function", call.Tool, "call_id", call.ID)
			if call.Guest != "" {
				log = log.With("guest", call.Guest)
			}
			log.DebugContext(ctx, "invoking host function", "request_bytes", len(payload))

			resp, err := next(ctx, payload)
			elapsed := time.Since(call.Started)
			if err != nil {
				log.WarnContext(ctx, "host function failed", "duration", elapsed, "error", err)
			} else {
				log.DebugContext(ctx, "host function completed", "duration", elapsed, "response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// BudgetGuardMiddleware refuses every call once the session budget is
// exhausted. It charges nothing; charging happens in Authorize.
func BudgetGuardMiddleware(checker BudgetChecker) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if err := checker.CheckBudget(ctx); err != nil {
				return FromError(err).ToJSON(), nil
			}
			return next(ctx, payload)
		}
	}
}

// RequestSizeMiddleware rejects payloads larger than limit bytes.
func RequestSizeMiddleware(limit int) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if len(payload) > limit {
				return NewValidationError(fmt.Sprintf("request of %d bytes exceeds limit of %d", len(payload), limit)).ToJSON(), nil
			}
			return next(ctx, payload)
		}
	}
}

// SchemaValidationMiddleware validates payloads against the schema
// registered under the invoked function's name. Functions without a
// schema pass through.
func SchemaValidationMiddleware(registry ports.SchemaRegistry, validator ports.DocumentValidator) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			name := functionName(ctx)
			if _, ok := registry.GetSchema(name); !ok {
				return next(ctx, payload)
			}
			doc := payload
			if len(doc) == 0 {
				doc = []byte("{}")
			}
			result, err := validator.Validate(name, doc)
			if err != nil {
				return NewInternalError(err.Error()).ToJSON(), nil
			}
			if !result.Valid {
				resp := NewValidationError(result.Error())
				resp.Details = map[string]any{"errors": result.Errors}
				return resp.ToJSON(), nil
			}
			return next(ctx, payload)
		}
	}
}
