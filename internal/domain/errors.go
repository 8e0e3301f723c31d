package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found in storage.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation in storage.
	ErrConflict = errors.New("conflict")
)

// Kind is the stable code of a cart error, surfaced to callers as-is.
type Kind string

const (
	KindUserNotFound          Kind = "USER_NOT_FOUND"
	KindProductNotFound       Kind = "PRODUCT_NOT_FOUND"
	KindCartNotFound          Kind = "CART_NOT_FOUND"
	KindInvalidQuantity       Kind = "INVALID_QUANTITY"
	KindInsufficientStock     Kind = "INSUFFICIENT_STOCK"
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	KindStorage               Kind = "STORAGE_ERROR"
	KindInternal              Kind = "INTERNAL"
)

// Error carries a Kind through every layer up to the transport boundary.
// Err holds the internal cause, which is logged but never sent to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrCartNotFound)
// works for wrapped instances too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUserNotFound          = &Error{Kind: KindUserNotFound, Message: "user not found"}
	ErrProductNotFound       = &Error{Kind: KindProductNotFound, Message: "product not found"}
	ErrCartNotFound          = &Error{Kind: KindCartNotFound, Message: "cart not found"}
	ErrInvalidQuantity       = &Error{Kind: KindInvalidQuantity, Message: "quantity must not be negative"}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock, Message: "insufficient stock"}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable, Message: "dependency unavailable"}
	ErrStorage               = &Error{Kind: KindStorage, Message: "storage failure"}
)

// NewError builds an error of the given kind wrapping cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Unavailable wraps a remote lookup failure.
func Unavailable(service string, cause error) error {
	return NewError(KindDependencyUnavailable, service+" unavailable", cause)
}

// Storage wraps a persistence failure unless it already carries a kind.
func Storage(op string, cause error) error {
	var de *Error
	if errors.As(cause, &de) {
		return cause
	}
	return NewError(KindStorage, op, cause)
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// PublicMessage is the caller-facing message for err. Infrastructure kinds
// get a generic text so internal details stay in the logs.
func PublicMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return "internal error"
	}
	switch de.Kind {
	case KindDependencyUnavailable:
		return "a dependent service is unavailable"
	case KindStorage:
		return "storage failure"
	case KindInternal:
		return "internal error"
	default:
		return de.Message
	}
}
