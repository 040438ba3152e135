package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/mbtc-bridge/oft_service/internal/domain/errors"
)

// Request-level error codes. Domain failures use the codes in internal/domain/errors.
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInvalidAddress  = "INVALID_ADDRESS"
	ErrCodeInvalidAmount   = "INVALID_AMOUNT"
	ErrCodeInvalidHex      = "INVALID_HEX"
	ErrCodeInvalidID       = "INVALID_ID"
	ErrCodeUnsupported     = "UNSUPPORTED_IN_MODE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	MsgInvalidRequest      = "Invalid request payload"
	MsgUnauthorized        = "Authentication required"
	MsgInternalError       = "Internal server error"
	MsgServiceUnavailable  = "Service temporarily unavailable"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: getRequestID(c),
	})
}

func respondBadRequest(c *gin.Context, code, message string) {
	respondError(c, http.StatusBadRequest, code, message, nil)
}

func respondUnauthorized(c *gin.Context) {
	respondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, MsgUnauthorized, nil)
}

// respondDomainError classifies err and logs anything that maps to a 5xx
func (b *base) respondDomainError(c *gin.Context, op string, err error) {
	de := domainerrors.Classify(err)
	status := de.HTTPStatus()
	if status >= http.StatusInternalServerError {
		b.logger.Error(op+" failed", "error", err, "request_id", getRequestID(c))
	} else {
		b.logger.Debug(op+" rejected", "error", err, "code", de.Code, "request_id", getRequestID(c))
	}
	c.JSON(status, ErrorResponse{
		Code:      de.Code,
		Message:   de.Error(),
		Details:   de.Details,
		Retryable: de.Retryable,
		RequestID: getRequestID(c),
	})
}
