// Package gwerrors defines the typed error taxonomy shared by every
// component of the semantic caching gateway. It replaces exception-style
// control flow with an explicit Kind so the API boundary can map failures
// to wire status codes without inspecting error strings.
package gwerrors

import (
	"errors"
	"fmt"

	"encore.dev/beta/errs"
)

// Kind classifies a failure the way the pipeline needs to react to it.
type Kind int

const (
	// KindInternal covers any uncaught failure.
	KindInternal Kind = iota
	// KindValidation marks malformed input. Never retried.
	KindValidation
	// KindUnauthenticated marks an absent or unrecognized credential.
	KindUnauthenticated
	// KindRateLimited marks a token-bucket rejection.
	KindRateLimited
	// KindDependencyUnavailable marks a KV store or embedding producer outage
	// the caller could not degrade around.
	KindDependencyUnavailable
	// KindLLMUnavailable marks a breaker-open or retry-exhausted LLM call.
	KindLLMUnavailable
	// KindShuttingDown marks admission rejected because of in-flight drain.
	KindShuttingDown
	// KindAuthConfigError marks an unrecoverable 401/403 from the LLM producer.
	KindAuthConfigError
	// KindConfigError marks a detected configuration inconsistency, such as
	// an embedding producer whose output dimension no longer matches
	// embedding_dim. Fatal per spec.md §7: the caller should abort startup
	// or, if detected mid-run, stop admitting new requests rather than
	// silently serving from a skewed configuration.
	KindConfigError
)

// String returns the machine code used in wire responses and log fields.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate_limited"
	case KindDependencyUnavailable:
		return "service_unavailable"
	case KindLLMUnavailable:
		return "service_unavailable"
	case KindShuttingDown:
		return "service_unavailable"
	case KindAuthConfigError:
		return "internal_error"
	case KindConfigError:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// Error is the gateway's structured error type. Message is always safe to
// surface to a caller; the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As. Error() includes the
// cause (for logs); ToAPIError puts only the safe Message in the API
// response message.
func (e *Error) Unwrap() error { return e.cause }

// New builds a typed error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error that carries an underlying cause for logs.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err is
// not a *Error (an uncaught failure, per spec).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// apiCode maps a Kind to the encore.dev/beta/errs.Code the runtime uses to
// pick an HTTP status for a //encore:api response (spec.md §6: validation
// errors are 400, unauthenticated is 401, rate limiting is 429, and every
// unavailable-dependency kind is 503).
func (k Kind) apiCode() errs.ErrCode {
	switch k {
	case KindValidation:
		return errs.InvalidArgument
	case KindUnauthenticated:
		return errs.Unauthenticated
	case KindRateLimited:
		return errs.ResourceExhausted
	case KindDependencyUnavailable, KindLLMUnavailable, KindShuttingDown:
		return errs.Unavailable
	case KindAuthConfigError, KindConfigError:
		return errs.Internal
	default:
		return errs.Internal
	}
}

// ToAPIError converts err into the *errs.Error Encore's runtime inspects to
// set the response status code, called at every //encore:api boundary
// function. A nil err returns nil; an err that is not a *Error is treated
// as an uncaught internal failure, matching KindOf's default.
func ToAPIError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return errs.B().Code(errs.Internal).Msg(err.Error()).Err()
	}
	return errs.B().Code(e.apiCode()).Msg(e.Message).Cause(e.cause).Err()
}
