package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
	"github.com/shopspring/decimal"
)

// BalanceRepository is the native token ledger in Postgres
type BalanceRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewBalanceRepository(db *sqlx.DB) *BalanceRepository {
	return &BalanceRepository{db: db, now: time.Now}
}

func (r *BalanceRepository) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	var balance decimal.Decimal
	query := `SELECT balance FROM token_balances WHERE account = $1`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &balance, query, addressKey(account)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return fromNumeric(balance)
}

func (r *BalanceRepository) Credit(ctx context.Context, account common.Address, amount *uint256.Int) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "upsert", "token_balances")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		INSERT INTO token_balances (account, balance, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account) DO UPDATE SET
			balance = token_balances.balance + EXCLUDED.balance,
			updated_at = EXCLUDED.updated_at`
	_, err = database.Conn(ctx, r.db).ExecContext(ctx, query, addressKey(account), toNumeric(amount), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

// Debit subtracts only when the balance covers amount, so a short balance
// changes nothing
func (r *BalanceRepository) Debit(ctx context.Context, account common.Address, amount *uint256.Int) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "update", "token_balances")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		UPDATE token_balances SET balance = balance - $2, updated_at = $3
		WHERE account = $1 AND balance >= $2`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, addressKey(account), toNumeric(amount), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}
	if n == 0 {
		return entities.ErrInsufficientBalance
	}
	return nil
}

func (r *BalanceRepository) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(balance), 0) FROM token_balances`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &total, query); err != nil {
		return nil, fmt.Errorf("failed to sum balances: %w", err)
	}
	return fromNumeric(total)
}

// ProcessedMessageRepository is the inbound replay ledger in Postgres
type ProcessedMessageRepository struct {
	db *sqlx.DB
}

func NewProcessedMessageRepository(db *sqlx.DB) *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: db}
}

func (r *ProcessedMessageRepository) Exists(ctx context.Context, guid common.Hash) (bool, error) {
	var ok bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_messages WHERE guid = $1)`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &ok, query, hashKey(guid)); err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return ok, nil
}

// MarkProcessed relies on the primary key so two concurrent deliveries of
// the same guid cannot both insert
func (r *ProcessedMessageRepository) MarkProcessed(ctx context.Context, m *entities.ProcessedMessage) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "insert", "processed_messages")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		INSERT INTO processed_messages (guid, src_eid, sender, nonce, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (guid) DO NOTHING`
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query,
		hashKey(m.GUID), m.SrcEid, hashKey(m.Sender), int64(m.Nonce), utc(m.ProcessedAt))
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	if n == 0 {
		return entities.ErrDuplicateMessage
	}
	return nil
}
