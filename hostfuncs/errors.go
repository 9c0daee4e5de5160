package hostfuncs

import (
	stderrors "errors"
	"io/fs"

	"github.com/sentinel-dev/sentinel/domain/errors"
	"github.com/sentinel-dev/sentinel/wireformat"
)

// NewValidationError creates an error response for bad input (e.g., malformed JSON).
func NewValidationError(message string) wireformat.ErrorResponse {
	return wireformat.ErrorResponse{Error: wireformat.CodeValidation, Message: message, Code: 400}
}

// NewNotFoundError creates an error response for unknown handler names.
func NewNotFoundError(name string) wireformat.ErrorResponse {
	return wireformat.ErrorResponse{Error: wireformat.CodeNotFound, Message: "unknown host function: " + name, Code: 404}
}

// NewInternalError creates an error response for unexpected failures.
func NewInternalError(message string) wireformat.ErrorResponse {
	return wireformat.ErrorResponse{Error: wireformat.CodeInternal, Message: message, Code: 500}
}

// NewPanicError creates an error response for recovered panics.
func NewPanicError(panicValue any) wireformat.ErrorResponse {
	var msg string
	if err, ok := panicValue.(error); ok {
		msg = err.Error()
	} else if s, ok := panicValue.(string); ok {
		msg = s
	} else {
		msg = "panic recovered"
	}
	return wireformat.ErrorResponse{Error: wireformat.CodeInternal, Message: "panic: " + msg, Code: 500}
}

// FromError maps the error taxonomy onto guest-facing responses.
// Authorization failures keep their identity; they are never reported
// as internal errors.
func FromError(err error) wireformat.ErrorResponse {
	resp := wireformat.ErrorResponse{Message: err.Error()}
	if d := errors.ToErrorDetail(err); d != nil {
		resp.Details = d.Details
	}

	var (
		pv  *errors.PolicyViolationError
		ce  *errors.CapabilityError
		be  *errors.BudgetExhaustedError
		me  *errors.ManifestError
		cfg *errors.ConfigError
		ne  *errors.NetworkError
		te  *errors.TimeoutError
	)
	switch {
	case stderrors.As(err, &pv):
		resp.Error, resp.Code = wireformat.CodePolicyViolation, 403
	case stderrors.As(err, &ce):
		resp.Error, resp.Code, resp.Reason = wireformat.CodeCapability, 403, string(ce.Reason)
	case stderrors.As(err, &be):
		resp.Error, resp.Code, resp.Reason = wireformat.CodeBudgetExhausted, 429, string(be.Dimension)
	case stderrors.As(err, &me):
		resp.Error, resp.Code, resp.Reason = wireformat.CodeManifest, 403, string(me.Reason)
		if me.Reason == errors.ReasonNotFound {
			resp.Code = 404
		}
	case stderrors.As(err, &cfg):
		resp.Error, resp.Code = wireformat.CodeValidation, 400
	case stderrors.As(err, &te):
		resp.Error, resp.Code = wireformat.CodeTimeout, 504
	case stderrors.As(err, &ne):
		resp.Error, resp.Code = wireformat.CodeNetwork, 502
		if ne.Operation == opSSRFCheck {
			resp.Error, resp.Code = wireformat.CodeSSRFBlocked, 403
		}
	case stderrors.Is(err, fs.ErrNotExist):
		resp.Error, resp.Code = wireformat.CodeNotFound, 404
	default:
		resp.Error, resp.Code = wireformat.CodeInternal, 500
	}
	return resp
}
