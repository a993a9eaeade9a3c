// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers and transports.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindPaymentRequired Kind = "payment_required"
	KindInvalidInput    Kind = "invalid_input"
	KindChargeDeclined  Kind = "charge_declined"
	KindLocked          Kind = "locked"
	KindUnauthorized    Kind = "unauthorized"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrPaymentRequired = &Error{Kind: KindPaymentRequired, Message: "payment required"}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrChargeDeclined  = &Error{Kind: KindChargeDeclined, Message: "charge declined"}
	ErrLocked          = &Error{Kind: KindLocked, Message: "locked"}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrRateLimited     = &Error{Kind: KindRateLimited, Message: "rate limit exceeded"}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Audience tells the kiosk whether the member can act on the failure
// ("member") or has to fetch staff ("staff").
func (e *Error) Audience() string {
	switch e.Kind {
	case KindNotFound, KindConflict, KindInternal:
		return "staff"
	}
	return "member"
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }
func PaymentRequired(format string, args ...any) *Error {
	return New(KindPaymentRequired, format, args...)
}
func InvalidInput(format string, args ...any) *Error { return New(KindInvalidInput, format, args...) }
func ChargeDeclined(format string, args ...any) *Error {
	return New(KindChargeDeclined, format, args...)
}
func Locked(format string, args ...any) *Error       { return New(KindLocked, format, args...) }
func Unauthorized(format string, args ...any) *Error { return New(KindUnauthorized, format, args...) }
func RateLimited(format string, args ...any) *Error  { return New(KindRateLimited, format, args...) }

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// HTTPStatus maps an error kind to the kiosk response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPaymentRequired, KindChargeDeclined:
		return http.StatusPaymentRequired
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindLocked:
		return http.StatusLocked
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
