// Package errs carries the domain error kinds shared across the core and
// their HTTP status mapping at the handler boundary.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindPaymentRequired
	KindInvalidInput
	KindInvalidFormat
	KindInvalidSQL
	KindInvalidReferences
	KindVersionNotFound
	KindConflictingUpdate
	KindUpstreamTimeout
	KindUpstreamError
)

// Error is the single variant-style error value used across the core.
type Error struct {
	Kind    Kind
	Entity  string      // NotFound
	Field   string      // InvalidInput
	Reason  string      // InvalidInput / InvalidFormat / InvalidSql detail
	IDs     []uuid.UUID // InvalidReferences
	Version int         // VersionNotFound
	Service string      // UpstreamTimeout / UpstreamError
	Err     error       // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("%s not found", e.Entity)
	case KindUnauthorized:
		return "unauthorized"
	case KindPaymentRequired:
		return "payment required"
	case KindInvalidInput:
		return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
	case KindInvalidFormat:
		return fmt.Sprintf("invalid format: %s", e.Reason)
	case KindInvalidSQL:
		return fmt.Sprintf("invalid sql: %s", e.Reason)
	case KindInvalidReferences:
		return fmt.Sprintf("invalid references: %v", e.IDs)
	case KindVersionNotFound:
		return fmt.Sprintf("version %d not found", e.Version)
	case KindConflictingUpdate:
		return "conflicting update"
	case KindUpstreamTimeout:
		return fmt.Sprintf("upstream timeout: %s", e.Service)
	case KindUpstreamError:
		return fmt.Sprintf("upstream error from %s: %s", e.Service, e.Reason)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "internal error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind onto the REST boundary.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound, KindVersionNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindInvalidInput, KindInvalidFormat, KindInvalidSQL, KindInvalidReferences:
		return http.StatusBadRequest
	case KindConflictingUpdate:
		return http.StatusConflict
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(entity string) error { return &Error{Kind: KindNotFound, Entity: entity} }

func Unauthorized() error { return &Error{Kind: KindUnauthorized} }

func PaymentRequired() error { return &Error{Kind: KindPaymentRequired} }

func InvalidInput(field, reason string) error {
	return &Error{Kind: KindInvalidInput, Field: field, Reason: reason}
}

func InvalidFormat(detail string) error { return &Error{Kind: KindInvalidFormat, Reason: detail} }

func InvalidSQL(detail string) error { return &Error{Kind: KindInvalidSQL, Reason: detail} }

func InvalidReferences(ids []uuid.UUID) error {
	return &Error{Kind: KindInvalidReferences, IDs: ids}
}

func VersionNotFound(n int) error { return &Error{Kind: KindVersionNotFound, Version: n} }

func UpstreamTimeout(service string) error {
	return &Error{Kind: KindUpstreamTimeout, Service: service}
}

func UpstreamError(service, detail string) error {
	return &Error{Kind: KindUpstreamError, Service: service, Reason: detail}
}

func Internal(err error) error { return &Error{Kind: KindInternal, Err: err} }

// IsKind reports whether the first *Error in err's chain has the given kind;
// any *Error wrapped beneath that one is not checked.
func IsKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
