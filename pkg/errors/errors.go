package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinels below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// StatusCode maps the error code onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrQuery:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrDuplicateEntry, ErrConsistencyConflict:
		return http.StatusConflict
	case ErrTransientInfrastructure, ErrUpload, ErrOffline:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
)

// Store and submission failure codes.
const (
	ErrDuplicateEntry ErrorCode = iota + 2000
	ErrTransientInfrastructure
	ErrConsistencyConflict
	ErrQuery
	ErrUpload
	ErrOffline
)

// Sentinels for errors.Is checks; only the code is compared.
var (
	DuplicateEntry                 = &AppError{Code: ErrDuplicateEntry, Message: "duplicate entry"}
	TransientInfrastructureFailure = &AppError{Code: ErrTransientInfrastructure, Message: "transient infrastructure failure"}
	ConsistencyConflict            = &AppError{Code: ErrConsistencyConflict, Message: "consistency conflict"}
	QueryError                     = &AppError{Code: ErrQuery, Message: "query error"}
	UploadFailure                  = &AppError{Code: ErrUpload, Message: "upload failure"}
	OfflineState                   = &AppError{Code: ErrOffline, Message: "offline"}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// Duplicate is reported to the field agent verbatim, so the wording stays actionable.
func Duplicate(err error) *AppError {
	return &AppError{
		Code:    ErrDuplicateEntry,
		Message: "Submission failed: Duplicate entry detected.",
		Err:     err,
	}
}

func Transient(attempts int, err error) *AppError {
	return &AppError{
		Code:    ErrTransientInfrastructure,
		Message: fmt.Sprintf("store unavailable after %d attempts", attempts),
		Err:     err,
	}
}

func Conflict(err error) *AppError {
	return &AppError{
		Code:    ErrConsistencyConflict,
		Message: "concurrent update conflict",
		Err:     err,
	}
}

func Query(err error) *AppError {
	return &AppError{
		Code:    ErrQuery,
		Message: "query failed",
		Err:     err,
	}
}

func Upload(slot string, err error) *AppError {
	return &AppError{
		Code:    ErrUpload,
		Message: fmt.Sprintf("failed to upload %s", slot),
		Err:     err,
	}
}

func Offline() *AppError {
	return &AppError{
		Code:    ErrOffline,
		Message: "client is offline",
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// CodeOf returns the code of the outermost AppError in the chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Name is the stable label used in logs, metrics and sync reports.
func (c ErrorCode) Name() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrBadRequest:
		return "bad_request"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrDuplicateEntry:
		return "duplicate_entry"
	case ErrTransientInfrastructure:
		return "transient_infrastructure_failure"
	case ErrConsistencyConflict:
		return "consistency_conflict"
	case ErrQuery:
		return "query_error"
	case ErrUpload:
		return "upload_failure"
	case ErrOffline:
		return "offline_state"
	default:
		return "internal"
	}
}
