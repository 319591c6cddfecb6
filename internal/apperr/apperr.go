// Package apperr defines the error kinds shared by the marketplace core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind represents the category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalidTransition
	KindConflict
	KindStoreUnavailable
	KindInvoiceLocked
	KindDealNotNegotiating
	KindDuplicateOffer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindConflict:
		return "CONFLICT"
	case KindStoreUnavailable:
		return "STORE_UNAVAILABLE"
	case KindInvoiceLocked:
		return "INVOICE_LOCKED"
	case KindDealNotNegotiating:
		return "DEAL_NOT_NEGOTIATING"
	case KindDuplicateOffer:
		return "DUPLICATE_OFFER"
	default:
		return "UNKNOWN"
	}
}

// Error is returned by every layer of the core when an operation is refused
// or fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same kind, so errors.Is(err, ErrNotFound)
// holds for any not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
	ErrInvoiceLocked      = &Error{Kind: KindInvoiceLocked}
	ErrDealNotNegotiating = &Error{Kind: KindDealNotNegotiating}
	ErrDuplicateOffer     = &Error{Kind: KindDuplicateOffer}
)

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// Forbidden creates a policy error.
func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// NotFound creates a missing-entity error.
func NotFound(entity, id string) *Error {
	return Newf(KindNotFound, "%s %s not found", entity, id)
}

// KindOf reports the kind of err, or KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
