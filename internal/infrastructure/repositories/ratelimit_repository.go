package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
	"github.com/mbtc-bridge/oft_service/pkg/tracing"
	"github.com/shopspring/decimal"
)

const rateLimitColumns = `dst_eid, limit_amount, window_ms, amount_in_flight, window_start, updated_at`

type rateLimitRow struct {
	DstEid         int64           `db:"dst_eid"`
	LimitAmount    decimal.Decimal `db:"limit_amount"`
	WindowMs       int64           `db:"window_ms"`
	AmountInFlight decimal.Decimal `db:"amount_in_flight"`
	WindowStart    time.Time       `db:"window_start"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (row rateLimitRow) toEntity() (*entities.RateLimit, error) {
	limit, err := fromNumeric(row.LimitAmount)
	if err != nil {
		return nil, fmt.Errorf("rate limit %d: %w", row.DstEid, err)
	}
	inFlight, err := fromNumeric(row.AmountInFlight)
	if err != nil {
		return nil, fmt.Errorf("rate limit %d: %w", row.DstEid, err)
	}
	return &entities.RateLimit{
		DstEid:         uint32(row.DstEid),
		Limit:          limit,
		Window:         time.Duration(row.WindowMs) * time.Millisecond,
		AmountInFlight: inFlight,
		WindowStart:    row.WindowStart,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

// RateLimitRepository stores per-destination window state in Postgres
type RateLimitRepository struct {
	db *sqlx.DB
}

func NewRateLimitRepository(db *sqlx.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func (r *RateLimitRepository) Get(ctx context.Context, dstEid uint32) (*entities.RateLimit, error) {
	return r.get(ctx, dstEid, `SELECT `+rateLimitColumns+` FROM rate_limits WHERE dst_eid = $1`)
}

// GetForUpdate locks the row until the surrounding transaction ends
func (r *RateLimitRepository) GetForUpdate(ctx context.Context, dstEid uint32) (*entities.RateLimit, error) {
	return r.get(ctx, dstEid, `SELECT `+rateLimitColumns+` FROM rate_limits WHERE dst_eid = $1 FOR UPDATE`)
}

func (r *RateLimitRepository) get(ctx context.Context, dstEid uint32, query string) (_ *entities.RateLimit, err error) {
	ctx, span := tracing.StartDBSpan(ctx, "select", "rate_limits")
	defer func() { tracing.EndSpan(span, err) }()

	var row rateLimitRow
	if err = sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, query, dstEid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}
	return row.toEntity()
}

func (r *RateLimitRepository) Save(ctx context.Context, rl *entities.RateLimit) (err error) {
	ctx, span := tracing.StartDBSpan(ctx, "upsert", "rate_limits")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		INSERT INTO rate_limits (` + rateLimitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dst_eid) DO UPDATE SET
			limit_amount = EXCLUDED.limit_amount,
			window_ms = EXCLUDED.window_ms,
			amount_in_flight = EXCLUDED.amount_in_flight,
			window_start = EXCLUDED.window_start,
			updated_at = EXCLUDED.updated_at`

	_, err = database.Conn(ctx, r.db).ExecContext(ctx, query,
		rl.DstEid, toNumeric(rl.Limit), rl.Window.Milliseconds(),
		toNumeric(rl.AmountInFlight), utc(rl.WindowStart), utc(rl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate limit: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) List(ctx context.Context) ([]*entities.RateLimit, error) {
	var rows []rateLimitRow
	query := `SELECT ` + rateLimitColumns + ` FROM rate_limits ORDER BY dst_eid`
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list rate limits: %w", err)
	}

	out := make([]*entities.RateLimit, 0, len(rows))
	for _, row := range rows {
		rl, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, nil
}
