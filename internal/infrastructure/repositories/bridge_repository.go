package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	domainrepos "github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
	"github.com/shopspring/decimal"
)

const transferColumns = `
	id, guid, direction, src_eid, dst_eid, nonce, from_address, to_address,
	amount_sent_ld, amount_received_ld, native_fee, alt_token_fee, composed,
	status, failure_reason, created_at, updated_at`

type transferRow struct {
	ID               uuid.UUID           `db:"id"`
	GUID             sql.NullString      `db:"guid"`
	Direction        string              `db:"direction"`
	SrcEid           int64               `db:"src_eid"`
	DstEid           int64               `db:"dst_eid"`
	Nonce            int64               `db:"nonce"`
	FromAddress      string              `db:"from_address"`
	ToAddress        string              `db:"to_address"`
	AmountSentLD     decimal.NullDecimal `db:"amount_sent_ld"`
	AmountReceivedLD decimal.NullDecimal `db:"amount_received_ld"`
	NativeFee        decimal.NullDecimal `db:"native_fee"`
	AltTokenFee      decimal.NullDecimal `db:"alt_token_fee"`
	Composed         bool                `db:"composed"`
	Status           string              `db:"status"`
	FailureReason    sql.NullString      `db:"failure_reason"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

func (row *transferRow) toEntity() (*entities.Transfer, error) {
	t := &entities.Transfer{
		ID:            row.ID,
		Direction:     entities.TransferDirection(row.Direction),
		SrcEid:        uint32(row.SrcEid),
		DstEid:        uint32(row.DstEid),
		Nonce:         uint64(row.Nonce),
		From:          common.HexToHash(row.FromAddress),
		To:            common.HexToHash(row.ToAddress),
		Composed:      row.Composed,
		Status:        entities.TransferStatus(row.Status),
		FailureReason: row.FailureReason.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.GUID.Valid {
		t.GUID = common.HexToHash(row.GUID.String)
	}

	var err error
	if t.AmountSentLD, err = fromNullNumeric(row.AmountSentLD); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
	}
	if t.AmountReceivedLD, err = fromNullNumeric(row.AmountReceivedLD); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
	}
	if t.NativeFee, err = fromNullNumeric(row.NativeFee); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
	}
	if t.AltTokenFee, err = fromNullNumeric(row.AltTokenFee); err != nil {
		return nil, fmt.Errorf("transfer %s: %w", row.ID, err)
	}
	return t, nil
}

func transferGUID(t *entities.Transfer) sql.NullString {
	if t.GUID == (common.Hash{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: hashKey(t.GUID), Valid: true}
}

// TransferRepository persists send and receive records
type TransferRepository struct {
	db *sqlx.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *sqlx.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Create(ctx context.Context, t *entities.Transfer) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "insert", "oft_transfers")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		INSERT INTO oft_transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = database.Conn(ctx, r.db).ExecContext(ctx, query,
		t.ID, transferGUID(t), string(t.Direction), t.SrcEid, t.DstEid, int64(t.Nonce),
		hashKey(t.From), hashKey(t.To),
		nullNumeric(t.AmountSentLD), nullNumeric(t.AmountReceivedLD),
		nullNumeric(t.NativeFee), nullNumeric(t.AltTokenFee), t.Composed,
		string(t.Status), nullString(t.FailureReason), utc(t.CreatedAt), utc(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transfer, error) {
	return r.getOne(ctx, `SELECT `+transferColumns+` FROM oft_transfers WHERE id = $1`, id)
}

// GetByGUID returns the most recent record for guid. A loopback round trip
// stores an outbound and an inbound record under the same guid.
func (r *TransferRepository) GetByGUID(ctx context.Context, guid common.Hash) (*entities.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM oft_transfers WHERE guid = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, hashKey(guid))
}

func (r *TransferRepository) getOne(ctx context.Context, query string, arg interface{}) (*entities.Transfer, error) {
	var row transferRow
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return row.toEntity()
}

func (r *TransferRepository) List(ctx context.Context, filter domainrepos.TransferFilter) ([]*entities.Transfer, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Direction != nil {
		add("direction = $%d", string(*filter.Direction))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.From != nil {
		add("from_address = $%d", hashKey(*filter.From))
	}

	query := `SELECT ` + transferColumns + ` FROM oft_transfers`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var rows []transferRow
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	out := make([]*entities.Transfer, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *TransferRepository) Update(ctx context.Context, t *entities.Transfer) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "update", "oft_transfers")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		UPDATE oft_transfers SET
			guid = $2, nonce = $3, amount_sent_ld = $4, amount_received_ld = $5,
			native_fee = $6, alt_token_fee = $7, composed = $8, status = $9,
			failure_reason = $10, updated_at = $11
		WHERE id = $1`

	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query,
		t.ID, transferGUID(t), int64(t.Nonce),
		nullNumeric(t.AmountSentLD), nullNumeric(t.AmountReceivedLD),
		nullNumeric(t.NativeFee), nullNumeric(t.AltTokenFee), t.Composed,
		string(t.Status), nullString(t.FailureReason), utc(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	if n == 0 {
		return entities.ErrTransferNotFound
	}
	return nil
}

var (
	_ domainrepos.RateLimitRepository        = (*RateLimitRepository)(nil)
	_ domainrepos.RoleRepository             = (*RoleRepository)(nil)
	_ domainrepos.PauseRepository            = (*PauseRepository)(nil)
	_ domainrepos.PeerRepository             = (*PeerRepository)(nil)
	_ domainrepos.EnforcedOptionRepository   = (*EnforcedOptionRepository)(nil)
	_ domainrepos.BalanceRepository          = (*BalanceRepository)(nil)
	_ domainrepos.ProcessedMessageRepository = (*ProcessedMessageRepository)(nil)
	_ domainrepos.TransferRepository         = (*TransferRepository)(nil)
	_ domainrepos.TxRunner                   = (*database.TxManager)(nil)
)
