package model

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the cart error taxonomy.
// Use errors.Is() to check against these.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrOutOfStock          = errors.New("out of stock")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrServer              = errors.New("server error")
	ErrNetwork             = errors.New("network error")
	ErrStorage             = errors.New("storage error")
	ErrConcurrentOperation = errors.New("concurrent operation")
)

// Category tells the UI how to surface a failure.
type Category string

const (
	// CategoryValidation: bad input, show inline and do not retry.
	CategoryValidation Category = "validation"
	// CategoryTransient: network, server, storage or overlap, offer retry.
	CategoryTransient Category = "transient"
	// CategorySession: credential rejected, redirect to login.
	CategorySession Category = "session"
)

// APIError represents a structured cart error.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	StatusCode int           `json:"-"` // HTTP status, not serialized
	RetryAfter time.Duration `json:"-"` // Server-suggested backoff, zero if unknown
	Err        error         `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrValidation,
	}
}

// NewNotFoundError creates a 404 error for missing carts, items or products.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewOutOfStockError creates a 409 error for products that cannot be added.
func NewOutOfStockError(productID string) *APIError {
	return &APIError{
		Code:       "OUT_OF_STOCK",
		Message:    fmt.Sprintf("product %s is out of stock", productID),
		StatusCode: http.StatusConflict,
		Err:        ErrOutOfStock,
	}
}

// NewUnauthorizedError creates a 401 error. The session is no longer valid.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewServerError creates a 502 error for failed or timed out server calls.
func NewServerError(service string, err error) *APIError {
	return &APIError{
		Code:       "SERVER_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrServer, err),
	}
}

// NewNetworkError creates a 503 error for requests that never reached the server.
func NewNetworkError(service string, err error) *APIError {
	return &APIError{
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("%s unreachable", service),
		StatusCode: http.StatusServiceUnavailable,
		Err:        fmt.Errorf("%w: %v", ErrNetwork, err),
	}
}

// NewStorageError creates an error for failed local cache writes.
// The in-memory cart stays authoritative when this is returned.
func NewStorageError(op string, err error) *APIError {
	return &APIError{
		Code:       "STORAGE_ERROR",
		Message:    fmt.Sprintf("local cache %s failed", op),
		StatusCode: http.StatusInsufficientStorage,
		Err:        fmt.Errorf("%w: %v", ErrStorage, err),
	}
}

// NewConcurrentOperationError rejects a mutation that overlaps one in flight.
func NewConcurrentOperationError() *APIError {
	return &APIError{
		Code:       "CONCURRENT_OPERATION",
		Message:    "another cart operation is in progress, retry",
		StatusCode: http.StatusConflict,
		Err:        ErrConcurrentOperation,
	}
}

// CategoryOf maps an error to the message category the UI branches on.
// Unknown errors are treated as transient.
func CategoryOf(err error) Category {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CategorySession
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrOutOfStock):
		return CategoryValidation
	default:
		return CategoryTransient
	}
}

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServer) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrConcurrentOperation) ||
		errors.Is(err, ErrStorage)
}
