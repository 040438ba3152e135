// Package errors classifies domain failures into stable codes and HTTP
// statuses for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// Standard error categories
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal error")
	ErrConflict           = errors.New("conflict")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Category  error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches both the wrapped error and the category
func (e *DomainError) Is(target error) bool {
	return e.Category != nil && e.Category == target
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// HTTPStatus maps the category to a response status
func (e *DomainError) HTTPStatus() int {
	switch e.Category {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(category, err error, code string) *DomainError {
	return &DomainError{Err: err, Category: category, Code: code, Message: err.Error()}
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:      ErrNotFound,
		Category: ErrNotFound,
		Code:     fmt.Sprintf("%s_NOT_FOUND", resource),
		Message:  fmt.Sprintf("%s not found", resource),
	}
}

// ValidationError creates a validation error
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:      ErrInvalidInput,
		Category: ErrInvalidInput,
		Code:     "VALIDATION_ERROR",
		Message:  message,
		Details:  map[string]interface{}{"field": field},
	}
}

// Bridge error codes
const (
	CodeZeroAmount            = "ZERO_AMOUNT"
	CodeInvalidMinAmount      = "INVALID_MIN_AMOUNT"
	CodeSlippageExceeded      = "SLIPPAGE_EXCEEDED"
	CodeAmountOverflow        = "AMOUNT_SD_OVERFLOW"
	CodeNoPeer                = "NO_PEER"
	CodePaused                = "PAUSED"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeInsufficientBalance   = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance = "INSUFFICIENT_ALLOWANCE"
	CodeInsufficientCustody   = "INSUFFICIENT_CUSTODY"
	CodeInsufficientFee       = "INSUFFICIENT_FEE"
	CodeChannelRejected       = "CHANNEL_REJECTED"
	CodeDispatchUnknown       = "DISPATCH_UNKNOWN"
	CodeInvalidOptions        = "INVALID_OPTIONS"
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeUnauthorizedPeer      = "UNAUTHORIZED_PEER"
	CodeDuplicateMessage      = "DUPLICATE_MESSAGE"
	CodeMissingRole           = "MISSING_ROLE"
	CodeLastAdmin             = "CANNOT_REMOVE_LAST_ADMIN"
	CodeAlreadyInitialized    = "ALREADY_INITIALIZED"
	CodeInvalidRole           = "INVALID_ROLE"
	CodeInvalidPauseClass     = "INVALID_PAUSE_CLASS"
	CodeInvalidRateLimit      = "INVALID_RATE_LIMIT"
	CodeTransferNotFound      = "TRANSFER_NOT_FOUND"
	CodeInternal              = "INTERNAL_ERROR"
)

type classification struct {
	sentinel error
	category error
	code     string
}

// Order matters: ErrInsufficientFee is checked before ErrChannelRejected
// because a channel fee rejection wraps both.
var classifications = []classification{
	{entities.ErrZeroAmount, ErrInvalidInput, CodeZeroAmount},
	{entities.ErrInvalidMinAmount, ErrInvalidInput, CodeInvalidMinAmount},
	{entities.ErrSlippageExceeded, ErrConflict, CodeSlippageExceeded},
	{entities.ErrAmountSDOverflow, ErrInvalidInput, CodeAmountOverflow},
	{entities.ErrNoPeer, ErrInvalidInput, CodeNoPeer},
	{entities.ErrPaused, ErrServiceUnavailable, CodePaused},
	{entities.ErrRateLimitExceeded, ErrRateLimit, CodeRateLimitExceeded},
	{entities.ErrInsufficientBalance, ErrConflict, CodeInsufficientBalance},
	{entities.ErrInsufficientAllowance, ErrConflict, CodeInsufficientAllowance},
	{entities.ErrInsufficientCustody, ErrInternal, CodeInsufficientCustody},
	{entities.ErrInsufficientFee, ErrInvalidInput, CodeInsufficientFee},
	{entities.ErrChannelRejected, ErrServiceUnavailable, CodeChannelRejected},
	{entities.ErrDispatchUnknown, ErrConflict, CodeDispatchUnknown},
	{entities.ErrInvalidOptions, ErrInvalidInput, CodeInvalidOptions},
	{entities.ErrInvalidPayload, ErrInvalidInput, CodeInvalidPayload},
	{entities.ErrUnauthorizedPeer, ErrForbidden, CodeUnauthorizedPeer},
	{entities.ErrDuplicateMessage, ErrConflict, CodeDuplicateMessage},
	{entities.ErrUnauthorized, ErrForbidden, CodeMissingRole},
	{entities.ErrCannotRemoveLastAdmin, ErrConflict, CodeLastAdmin},
	{entities.ErrAlreadyInitialized, ErrConflict, CodeAlreadyInitialized},
	{entities.ErrInvalidRole, ErrInvalidInput, CodeInvalidRole},
	{entities.ErrInvalidPauseClass, ErrInvalidInput, CodeInvalidPauseClass},
	{entities.ErrInvalidRateLimit, ErrInvalidInput, CodeInvalidRateLimit},
	{entities.ErrTransferNotFound, ErrNotFound, CodeTransferNotFound},
}

// Classify converts err into a DomainError. Errors that already are one
// are returned unchanged; unknown errors become internal errors.
func Classify(err error) *DomainError {
	if err == nil {
		return nil
	}

	var de *DomainError
	if errors.As(err, &de) {
		return de
	}

	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			de = newError(c.category, err, c.code)
			break
		}
	}
	if de == nil {
		return &DomainError{
			Err:      err,
			Category: ErrInternal,
			Code:     CodeInternal,
			Message:  "internal error",
		}
	}

	var rle *entities.RateLimitExceededError
	if errors.As(err, &rle) {
		de.Details = map[string]interface{}{
			"dst_eid":   rle.DstEid,
			"requested": rle.Requested.Dec(),
			"available": rle.Available.Dec(),
		}
	}
	var ue *entities.UnauthorizedError
	if errors.As(err, &ue) {
		de.Details = map[string]interface{}{"role": string(ue.Role)}
	}
	if de.Category == ErrServiceUnavailable {
		de.Retryable = true
	}
	return de
}

// GetErrorCode extracts the error code
func GetErrorCode(err error) string {
	if de := Classify(err); de != nil {
		return de.Code
	}
	return ""
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
