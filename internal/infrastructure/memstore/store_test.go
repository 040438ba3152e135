package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func TestRunInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Balances().Credit(ctx, alice, uint256.NewInt(100)))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Balances().Debit(ctx, alice, uint256.NewInt(40)))
		require.NoError(t, s.RateLimits().Save(ctx, entities.NewRateLimit(entities.RateLimitConfig{
			DstEid: 2, Limit: uint256.NewInt(10), Window: time.Second,
		}, time.Now())))

		bal, err := s.Balances().BalanceOf(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(60), bal.Uint64(), "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := s.Balances().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Uint64())

	rl, err := s.RateLimits().Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, rl)
}

func TestRunInTx_UncommittedWritesInvisibleOutside(t *testing.T) {
	ctx := context.Background()
	s := New()

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- s.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.Balances().Credit(ctx, alice, uint256.NewInt(5)); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	bal, err := s.Balances().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	close(release)
	require.NoError(t, <-done)

	bal, err = s.Balances().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal.Uint64())
}

func TestRunInTx_NestedJoinsOuter(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Balances().Credit(ctx, alice, uint256.NewInt(7))
		}))
		return errors.New("outer fails")
	})
	require.Error(t, err)

	bal, err := s.Balances().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "inner write must roll back with the outer transaction")
}

func TestBalances_ConcurrentCreditsAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Balances().Credit(ctx, alice, uint256.NewInt(2)))
		}()
	}
	wg.Wait()

	bal, err := s.Balances().BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal.Uint64())

	supply, err := s.Balances().TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), supply.Uint64())
}

func TestBalances_DebitInsufficient(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Balances().Credit(ctx, alice, uint256.NewInt(3)))

	err := s.Balances().Debit(ctx, alice, uint256.NewInt(4))
	assert.ErrorIs(t, err, entities.ErrInsufficientBalance)

	bal, _ := s.Balances().BalanceOf(ctx, alice)
	assert.Equal(t, uint64(3), bal.Uint64())
}

func TestProcessedMessages_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	msg := &entities.ProcessedMessage{GUID: common.HexToHash("0x01"), SrcEid: 1, Nonce: 1, ProcessedAt: time.Now()}

	require.NoError(t, s.ProcessedMessages().MarkProcessed(ctx, msg))
	assert.ErrorIs(t, s.ProcessedMessages().MarkProcessed(ctx, msg), entities.ErrDuplicateMessage)

	ok, err := s.ProcessedMessages().Exists(ctx, msg.GUID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimits_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.RateLimits().Save(ctx, entities.NewRateLimit(entities.RateLimitConfig{
		DstEid: 9, Limit: uint256.NewInt(10), Window: time.Second,
	}, time.Now())))

	rl, err := s.RateLimits().Get(ctx, 9)
	require.NoError(t, err)
	rl.AmountInFlight.SetUint64(10)

	again, err := s.RateLimits().Get(ctx, 9)
	require.NoError(t, err)
	assert.True(t, again.AmountInFlight.IsZero())
}
