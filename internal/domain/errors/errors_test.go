package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"zero amount", entities.ErrZeroAmount, CodeZeroAmount, http.StatusBadRequest},
		{"wrapped no peer", fmt.Errorf("send: %w", entities.ErrNoPeer), CodeNoPeer, http.StatusBadRequest},
		{"paused", entities.ErrPaused, CodePaused, http.StatusServiceUnavailable},
		{"balance", entities.ErrInsufficientBalance, CodeInsufficientBalance, http.StatusConflict},
		{"peer", entities.ErrUnauthorizedPeer, CodeUnauthorizedPeer, http.StatusForbidden},
		{"fee rejection", fmt.Errorf("%w: %w", entities.ErrChannelRejected, entities.ErrInsufficientFee), CodeInsufficientFee, http.StatusBadRequest},
		{"channel", fmt.Errorf("%w: relay down", entities.ErrChannelRejected), CodeChannelRejected, http.StatusServiceUnavailable},
		{"dispatch unknown", fmt.Errorf("%w: transfer 1", entities.ErrDispatchUnknown), CodeDispatchUnknown, http.StatusConflict},
		{"not found", entities.ErrTransferNotFound, CodeTransferNotFound, http.StatusNotFound},
		{"unknown", errors.New("disk on fire"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := Classify(tt.err)
			require.NotNil(t, de)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.status, de.HTTPStatus())
			assert.ErrorIs(t, de, tt.err)
		})
	}
}

func TestClassify_RateLimitDetails(t *testing.T) {
	err := &entities.RateLimitExceededError{
		DstEid:    40102,
		Requested: uint256.NewInt(8000),
		Available: uint256.NewInt(7000),
	}
	de := Classify(fmt.Errorf("send: %w", err))

	assert.Equal(t, http.StatusTooManyRequests, de.HTTPStatus())
	assert.Equal(t, "7000", de.Details["available"])
	assert.True(t, errors.Is(de, ErrRateLimit))
}

func TestClassify_UnknownHidesCause(t *testing.T) {
	de := Classify(errors.New("pq: connection refused"))
	assert.Equal(t, "internal error", de.Error())
	assert.False(t, de.Retryable)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}
