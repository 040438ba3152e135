package relay

import (
	"errors"
	"fmt"
)

// ErrorResponse is an error body returned by the relayer
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("relay API error [%d]: %s (code: %s)", e.StatusCode, e.Message, e.Code)
}

func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}

// ErrInvalidResponse is returned when a relayer reply cannot be interpreted
var ErrInvalidResponse = errors.New("invalid relay response")

// errNotSent marks failures that happened before a request left the client
var errNotSent = errors.New("request not sent")
