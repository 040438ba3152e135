//go:build integration

package repositories

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	domainrepos "github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sqlx.DB {
	url := os.Getenv("OFT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("OFT_TEST_DATABASE_URL not set")
	}
	require.NoError(t, database.RunMigrations(url, "../../../migrations"))

	db, err := sqlx.Connect("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.MustExec(`TRUNCATE rate_limits, role_assignments, pause_flags, peers,
			enforced_options, token_balances, processed_messages, oft_transfers`)
		db.Close()
	})
	return db
}

func TestPostgres_BalanceDebitIsConditional(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewBalanceRepository(db)
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	require.NoError(t, repo.Credit(ctx, alice, uint256.NewInt(100)))
	require.NoError(t, repo.Credit(ctx, alice, uint256.NewInt(50)))

	err := repo.Debit(ctx, alice, uint256.NewInt(151))
	assert.ErrorIs(t, err, entities.ErrInsufficientBalance)

	require.NoError(t, repo.Debit(ctx, alice, uint256.NewInt(150)))
	bal, err := repo.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	supply, err := repo.TotalSupply(ctx)
	require.NoError(t, err)
	assert.True(t, supply.IsZero())
}

func TestPostgres_RateLimitRollsBackWithTx(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	tx := database.NewTxManager(db)
	repo := NewRateLimitRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	rl := entities.NewRateLimit(entities.RateLimitConfig{
		DstEid: 40102, Limit: uint256.NewInt(1000), Window: 1500 * time.Millisecond,
	}, now)
	require.NoError(t, repo.Save(ctx, rl))

	boom := errors.New("boom")
	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := repo.GetForUpdate(ctx, 40102)
		require.NoError(t, err)
		require.NoError(t, locked.Consume(uint256.NewInt(400), now))
		require.NoError(t, repo.Save(ctx, locked))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, 40102)
	require.NoError(t, err)
	assert.True(t, got.AmountInFlight.IsZero())
	assert.Equal(t, 1500*time.Millisecond, got.Window)

	missing, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgres_ProcessedMessagesRejectReplay(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewProcessedMessageRepository(db)

	msg := &entities.ProcessedMessage{
		GUID:        common.HexToHash("0x01"),
		SrcEid:      40101,
		Sender:      common.HexToHash("0xaaaa"),
		Nonce:       7,
		ProcessedAt: time.Now(),
	}
	require.NoError(t, repo.MarkProcessed(ctx, msg))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, msg), entities.ErrDuplicateMessage)

	ok, err := repo.Exists(ctx, msg.GUID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_TransfersRoundTrip(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewTransferRepository(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	tr := &entities.Transfer{
		ID:           uuid.New(),
		Direction:    entities.TransferDirectionOutbound,
		SrcEid:       40101,
		DstEid:       40102,
		From:         common.HexToHash("0xa11ce"),
		To:           common.HexToHash("0xb0b"),
		AmountSentLD: uint256.NewInt(1_000_000),
		Status:       entities.TransferStatusDebited,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, tr))

	tr.GUID = common.HexToHash("0xfeed")
	tr.Nonce = 3
	tr.Advance(entities.TransferStatusSucceeded, now)
	require.NoError(t, repo.Update(ctx, tr))

	got, err := repo.GetByGUID(ctx, tr.GUID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, uint64(3), got.Nonce)
	assert.Nil(t, got.AmountReceivedLD)

	dir := entities.TransferDirectionOutbound
	list, err := repo.List(ctx, domainrepos.TransferFilter{Direction: &dir, From: &tr.From})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing := &entities.Transfer{ID: uuid.New()}
	assert.ErrorIs(t, repo.Update(ctx, missing), entities.ErrTransferNotFound)
}
