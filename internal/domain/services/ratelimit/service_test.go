package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/memstore"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dst uint32 = 40102

var (
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000ad1")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	t0       = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

type stubAuthorizer struct{ admins map[common.Address]bool }

func (a *stubAuthorizer) RequireRole(_ context.Context, account common.Address, role entities.Role) error {
	if role == entities.RoleAdmin && a.admins[account] {
		return nil
	}
	return &entities.UnauthorizedError{Account: account.Hex(), Role: role}
}

func newService(t *testing.T) *Service {
	t.Helper()
	zapLog, _ := zap.NewDevelopment()
	store := memstore.New()
	return NewService(store.RateLimits(), store, &stubAuthorizer{admins: map[common.Address]bool{admin: true}}, logger.NewLogger(zapLog))
}

func configure(t *testing.T, s *Service, limit uint64, window time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, s.SetRateLimits(context.Background(), admin, []entities.RateLimitConfig{
		{DstEid: dst, Limit: uint256.NewInt(limit), Window: window},
	}, now))
}

func available(t *testing.T, s *Service, now time.Time) uint64 {
	t.Helper()
	st, err := s.GetAmountCanBeSent(context.Background(), dst, now)
	require.NoError(t, err)
	return st.Available.Uint64()
}

func TestCheckAndConsume_Scenario(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 10000, 10*time.Second, t0)

	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(3000), t0))
	assert.Equal(t, uint64(7000), available(t, s, t0))

	err := s.CheckAndConsume(ctx, dst, uint256.NewInt(8000), t0.Add(time.Second))
	require.ErrorIs(t, err, entities.ErrRateLimitExceeded)

	var exceeded *entities.RateLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, uint64(7000), exceeded.Available.Uint64())

	st, err := s.GetAmountCanBeSent(ctx, dst, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), st.AmountInFlight.Uint64(), "rejected consume must not change the counter")
}

func TestCheckAndConsume_WindowReset(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 10000, 10*time.Second, t0)

	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(10000), t0))
	assert.Equal(t, uint64(0), available(t, s, t0.Add(9999*time.Millisecond)))
	assert.Equal(t, uint64(10000), available(t, s, t0.Add(10*time.Second)))

	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(4000), t0.Add(12*time.Second)))
	assert.Equal(t, uint64(6000), available(t, s, t0.Add(13*time.Second)))
	// new window started at t0+12s
	assert.Equal(t, uint64(6000), available(t, s, t0.Add(21*time.Second)))
	assert.Equal(t, uint64(10000), available(t, s, t0.Add(22*time.Second)))
}

func TestCheckAndConsume_BoundaryBurst(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 1000, 10*time.Second, t0)

	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(1000), t0.Add(9*time.Second)))
	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(1000), t0.Add(10*time.Second)))
}

func TestCheckAndConsume_ZeroLimitDisablesSending(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 0, 0, t0)

	err := s.CheckAndConsume(ctx, dst, uint256.NewInt(1), t0)
	assert.ErrorIs(t, err, entities.ErrRateLimitExceeded)
	assert.Equal(t, uint64(0), available(t, s, t0.Add(time.Hour)))
}

func TestCheckAndConsume_UnconfiguredIsUnlimited(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	require.NoError(t, s.CheckAndConsume(ctx, 999, entities.MaxAmount, t0))

	st, err := s.GetAmountCanBeSent(ctx, 999, t0)
	require.NoError(t, err)
	assert.False(t, st.Configured)
	assert.Equal(t, entities.MaxAmount, st.Available)
}

func TestCheckAndConsume_SequentialSendsAreAdditive(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 10000, time.Minute, t0)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(1500), t0.Add(time.Duration(i)*time.Second)))
	}
	assert.Equal(t, uint64(2500), available(t, s, t0.Add(5*time.Second)))
}

func TestCheckAndConsume_ConcurrentNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 1000, time.Minute, t0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CheckAndConsume(ctx, dst, uint256.NewInt(100), t0); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	assert.Equal(t, uint64(0), available(t, s, t0))
}

func TestGetAmountCanBeSent_IsReadOnly(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 500, 10*time.Second, t0)
	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(200), t0))

	later := t0.Add(11 * time.Second)
	first, err := s.GetAmountCanBeSent(ctx, dst, later)
	require.NoError(t, err)
	second, err := s.GetAmountCanBeSent(ctx, dst, later)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(500), first.Available.Uint64())

	// the projection above must not have reset the stored window
	assert.Equal(t, uint64(300), available(t, s, t0.Add(time.Second)))
}

func TestSetRateLimits_KeepsInFlightOnReconfigure(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	configure(t, s, 1000, 10*time.Second, t0)
	require.NoError(t, s.CheckAndConsume(ctx, dst, uint256.NewInt(800), t0))

	configure(t, s, 500, 10*time.Second, t0.Add(time.Second))
	assert.Equal(t, uint64(0), available(t, s, t0.Add(2*time.Second)), "available saturates at zero")

	configure(t, s, 2000, 10*time.Second, t0.Add(3*time.Second))
	assert.Equal(t, uint64(1200), available(t, s, t0.Add(4*time.Second)))
}

func TestSetRateLimits_Validation(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	t.Run("requires admin", func(t *testing.T) {
		err := s.SetRateLimits(ctx, stranger, []entities.RateLimitConfig{
			{DstEid: dst, Limit: uint256.NewInt(1), Window: time.Second},
		}, t0)
		assert.ErrorIs(t, err, entities.ErrUnauthorized)
	})

	t.Run("active limit needs a window", func(t *testing.T) {
		err := s.SetRateLimits(ctx, admin, []entities.RateLimitConfig{
			{DstEid: dst, Limit: uint256.NewInt(1), Window: 0},
		}, t0)
		assert.ErrorIs(t, err, entities.ErrInvalidRateLimit)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		err := s.SetRateLimits(ctx, admin, []entities.RateLimitConfig{
			{DstEid: 1, Limit: uint256.NewInt(10), Window: time.Second},
			{DstEid: 2, Limit: nil, Window: time.Second},
		}, t0)
		require.ErrorIs(t, err, entities.ErrInvalidRateLimit)

		st, err := s.GetAmountCanBeSent(ctx, 1, t0)
		require.NoError(t, err)
		assert.False(t, st.Configured)
	})
}
