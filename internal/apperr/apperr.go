// Package apperr defines the error kinds surfaced by ride operations and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"net/http"
	"sort"
	"strings"
)

type Kind string

const (
	ValidationFailed           Kind = "validation_failed"
	NotFound                   Kind = "not_found"
	IllegalStateTransition     Kind = "illegal_state_transition"
	Unauthorized               Kind = "unauthorized"
	Forbidden                  Kind = "forbidden"
	InvalidOTP                 Kind = "invalid_otp"
	AccountDeactivated         Kind = "account_deactivated"
	GeoResolutionFailed        Kind = "geo_resolution_failed"
	PaymentSignatureMismatch   Kind = "payment_signature_mismatch"
	ExternalServiceUnavailable Kind = "external_service_unavailable"
	Internal                   Kind = "internal"
)

// Error is a user-facing failure. Message is safe to return to clients.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k + ": " + e.Fields[k])
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Invalid builds a ValidationFailed error carrying per-field details.
func Invalid(fields map[string]string) *Error {
	return &Error{Kind: ValidationFailed, Message: "validation failed", Fields: fields}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case ValidationFailed, InvalidOTP:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case IllegalStateTransition:
		return http.StatusConflict
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, AccountDeactivated:
		return http.StatusForbidden
	case GeoResolutionFailed:
		return http.StatusUnprocessableEntity
	case PaymentSignatureMismatch:
		return http.StatusBadRequest
	case ExternalServiceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
