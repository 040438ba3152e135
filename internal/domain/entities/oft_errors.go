package entities

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Transfer validation and execution errors
var (
	ErrZeroAmount            = errors.New("amount must be greater than zero")
	ErrInvalidMinAmount      = errors.New("min amount exceeds amount")
	ErrSlippageExceeded      = errors.New("amount received below min amount")
	ErrAmountSDOverflow      = errors.New("amount exceeds shared decimals range")
	ErrNoPeer                = errors.New("no peer configured for destination")
	ErrPaused                = errors.New("operation is paused")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientCustody   = errors.New("insufficient custody balance")
	ErrChannelRejected       = errors.New("message channel rejected send")
	ErrDispatchUnknown       = errors.New("message dispatch outcome unknown")
	ErrInsufficientFee       = errors.New("supplied fee below quoted fee")
	ErrInvalidOptions        = errors.New("invalid options")
	ErrInvalidPayload        = errors.New("invalid message payload")
	ErrInvalidLocalDecimals  = errors.New("local decimals below shared decimals")
)

// Inbound message errors
var (
	ErrUnauthorizedPeer = errors.New("message sender is not the configured peer")
	ErrDuplicateMessage = errors.New("message already processed")
)

// Access control errors
var (
	ErrUnauthorized          = errors.New("caller lacks required role")
	ErrCannotRemoveLastAdmin = errors.New("cannot remove the last admin")
	ErrAlreadyInitialized    = errors.New("access control already initialized")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidPauseClass     = errors.New("invalid pause class")
)

// Configuration errors
var (
	ErrInvalidRateLimit = errors.New("invalid rate limit config")
	ErrTransferNotFound = errors.New("transfer not found")
)

// RateLimitExceededError carries the capacity left in the current window
type RateLimitExceededError struct {
	DstEid    uint32
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for eid %d: requested %s, available %s",
		e.DstEid, e.Requested.Dec(), e.Available.Dec())
}

// Is lets callers match with errors.Is(err, ErrRateLimitExceeded)
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// UnauthorizedError names the missing role
type UnauthorizedError struct {
	Account string
	Role    Role
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("account %s is missing role %s", e.Account, e.Role)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}
