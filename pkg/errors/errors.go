package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeIdempotency        Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeInsufficientPoints Code = "INSUFFICIENT_POINTS"
	CodeVoucherExpired     Code = "VOUCHER_EXPIRED"
	CodeDuplicateCode      Code = "DUPLICATE_CODE"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeUnavailable        Code = "UNAVAILABLE"
)

// Metadata is the transport contract for a code.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func rejected(status int, message string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: message, DetailsAllowed: details}
}

func failed(status int, message string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: message, Retryable: true}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:         rejected(http.StatusBadRequest, "validation failed", true),
	CodeInvalidConfig:      rejected(http.StatusBadRequest, "invalid reward configuration", true),
	CodeUnauthorized:       rejected(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:          rejected(http.StatusForbidden, "access denied", false),
	CodeNotFound:           rejected(http.StatusNotFound, "resource not found", false),
	CodeConflict:           rejected(http.StatusConflict, "conflict detected", false),
	CodeIdempotency:        rejected(http.StatusConflict, "idempotency key reused", true),
	CodeDuplicateCode:      rejected(http.StatusConflict, "voucher code already in use", true),
	CodeStateConflict:      rejected(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeInsufficientPoints: rejected(http.StatusUnprocessableEntity, "insufficient points", true),
	CodeVoucherExpired:     rejected(http.StatusUnprocessableEntity, "voucher expired", true),
	CodeInternal:           failed(http.StatusInternalServerError, "internal server error"),
	CodeUnavailable:        failed(http.StatusServiceUnavailable, "service temporarily unavailable"),
}

// MetadataFor returns the metadata for code, falling back to CodeInternal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// Ensure keeps an already-typed error as is and wraps anything else with code.
// Deadline and cancellation errors always become CodeUnavailable.
func Ensure(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return Wrap(CodeUnavailable, err, message)
	}
	return Wrap(code, err, message)
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// IsRetryable reports whether err may succeed on a later attempt. Untyped
// errors are treated as retryable.
func IsRetryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return true
	}
	return MetadataFor(typed.Code()).Retryable
}
