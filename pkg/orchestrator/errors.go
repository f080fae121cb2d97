package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/nimbus/pkg/types"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
)

// Error is a classified orchestrator failure
type Error struct {
	Kind types.ErrorKind
	Op   string
	Ref  types.ObjectRef
	Err  error
}

func (e *Error) Error() string {
	if e.Ref.Name != "" {
		return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Ref, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error
func NewError(kind types.ErrorKind, op string, ref types.ObjectRef, err error) *Error {
	return &Error{Kind: kind, Op: op, Ref: ref, Err: err}
}

// TransportError reports an unreachable or timed out orchestrator
func TransportError(op string, err error) *Error {
	return &Error{Kind: types.ErrorTransport, Op: op, Err: err}
}

// ParseError reports a malformed orchestrator response
func ParseError(op string, err error) *Error {
	return &Error{Kind: types.ErrorParse, Op: op, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as transport failures so they are retried rather than surfaced as final.
func KindOf(err error) types.ErrorKind {
	if err == nil {
		return ""
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Classify(err)
}

// Classify maps raw client errors (Kubernetes API, network, context) to the
// error taxonomy
func Classify(err error) types.ErrorKind {
	switch {
	case err == nil:
		return ""
	case kubeerr.IsNotFound(err), kubeerr.IsGone(err):
		return types.ErrorNotFound
	case kubeerr.IsConflict(err), kubeerr.IsAlreadyExists(err):
		return types.ErrorConflict
	case kubeerr.IsInvalid(err), kubeerr.IsBadRequest(err), kubeerr.IsForbidden(err),
		kubeerr.IsMethodNotSupported(err), kubeerr.IsRequestEntityTooLargeError(err):
		// quota exhaustion surfaces as Forbidden and is not retried
		return types.ErrorValidation
	case kubeerr.IsTimeout(err), kubeerr.IsServerTimeout(err), kubeerr.IsTooManyRequests(err),
		kubeerr.IsServiceUnavailable(err), kubeerr.IsInternalError(err), kubeerr.IsUnexpectedServerError(err):
		return types.ErrorTransport
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return types.ErrorTransport
	}
	return types.ErrorTransport
}

// Wrap classifies err and attaches the operation and object reference
func Wrap(op string, ref types.ObjectRef, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Ref: ref, Err: err}
}

// IsTransient reports whether the failure may succeed when retried
func IsTransient(err error) bool {
	switch KindOf(err) {
	case types.ErrorTransport, types.ErrorConflict:
		return true
	}
	return false
}

// IsNotFound reports whether the object does not exist
func IsNotFound(err error) bool {
	return KindOf(err) == types.ErrorNotFound
}
