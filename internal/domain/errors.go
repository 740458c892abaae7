package domain

import (
	"errors"
	"fmt"
)

// Status codes observed at the operation boundary.
const (
	StatusOK               = 200
	StatusNotFound         = 404
	StatusTimeout          = 408
	StatusInternalError    = 500
	StatusFailureThreshold = 400
)

type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeCoordination ErrorType = "coordination"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInternal     ErrorType = "internal"
)

type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
}

func (e Error) Error() string {
	return e.Message
}

var (
	ErrNoOperations         = errors.New("at least one operation to join expected")
	ErrOperationsAlreadySet = errors.New("operations have already been set")
	ErrInvalidBatchSize     = errors.New("batch size must be greater than 0")
	ErrBatchLimitViolated   = errors.New("batch limit violated")
	ErrNilSender            = errors.New("sender must not be nil")
	ErrNothingToSend        = errors.New("no operations to be sent")
	ErrJoinInFlight         = errors.New("join operations already dispatched")
	ErrBodyRequired         = errors.New("body is required")
)

// CancellationError is surfaced when an operation's absolute deadline passed
// while it was still pending.
type CancellationError struct {
	ExpirationMicros int64
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("expired at %d", e.ExpirationMicros)
}

func NewCancellationError(expirationUsec int64) *CancellationError {
	return &CancellationError{ExpirationMicros: expirationUsec}
}

func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

type ServiceNotFoundError struct {
	Path string
}

func (e *ServiceNotFoundError) Error() string {
	return "service not found: " + e.Path
}

func IsServiceNotFound(err error) bool {
	var nf *ServiceNotFoundError
	return errors.As(err, &nf)
}

// ErrorDetail is a machine-checkable marker embedded in failure bodies.
type ErrorDetail string

const DetailShouldRetry ErrorDetail = "SHOULD_RETRY"

// ErrorResponse is the wire body of a failed operation.
type ErrorResponse struct {
	Message    string        `json:"message,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	Details    []ErrorDetail `json:"details,omitempty"`
}

func (r *ErrorResponse) HasDetail(d ErrorDetail) bool {
	for _, detail := range r.Details {
		if detail == d {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether the responder marked this failure retryable.
func (r *ErrorResponse) ShouldRetry() bool {
	return r.HasDetail(DetailShouldRetry)
}

func NewErrorResponse(statusCode int, message string, details ...ErrorDetail) *ErrorResponse {
	return &ErrorResponse{
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func statusForError(err error) int {
	switch {
	case IsServiceNotFound(err):
		return StatusNotFound
	case IsCancellation(err):
		return StatusTimeout
	default:
		var de Error
		if errors.As(err, &de) && de.Type == ErrorTypeTimeout {
			return StatusTimeout
		}
		return StatusInternalError
	}
}
