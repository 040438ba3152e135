package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/database"
)

type peerRow struct {
	Eid       int64     `db:"eid"`
	Address   string    `db:"address"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row peerRow) toEntity() *entities.Peer {
	return &entities.Peer{
		Eid:       uint32(row.Eid),
		Address:   common.HexToHash(row.Address),
		UpdatedAt: row.UpdatedAt,
	}
}

// PeerRepository stores remote counterparts in Postgres
type PeerRepository struct {
	db *sqlx.DB
}

func NewPeerRepository(db *sqlx.DB) *PeerRepository {
	return &PeerRepository{db: db}
}

func (r *PeerRepository) Get(ctx context.Context, eid uint32) (*entities.Peer, error) {
	var row peerRow
	query := `SELECT eid, address, updated_at FROM peers WHERE eid = $1`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, query, eid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get peer: %w", err)
	}
	return row.toEntity(), nil
}

func (r *PeerRepository) Set(ctx context.Context, p *entities.Peer) error {
	query := `
		INSERT INTO peers (eid, address, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (eid) DO UPDATE SET
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, p.Eid, hashKey(p.Address), utc(p.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to set peer: %w", err)
	}
	return nil
}

func (r *PeerRepository) List(ctx context.Context) ([]*entities.Peer, error) {
	var rows []peerRow
	query := `SELECT eid, address, updated_at FROM peers ORDER BY eid`
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	out := make([]*entities.Peer, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

// EnforcedOptionRepository stores minimum executor options in Postgres
type EnforcedOptionRepository struct {
	db *sqlx.DB
}

func NewEnforcedOptionRepository(db *sqlx.DB) *EnforcedOptionRepository {
	return &EnforcedOptionRepository{db: db}
}

func (r *EnforcedOptionRepository) Get(ctx context.Context, eid uint32, msgType uint16) (*entities.EnforcedOption, error) {
	var options []byte
	query := `SELECT options FROM enforced_options WHERE eid = $1 AND msg_type = $2`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &options, query, eid, msgType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get enforced options: %w", err)
	}
	return &entities.EnforcedOption{Eid: eid, MsgType: msgType, Options: options}, nil
}

func (r *EnforcedOptionRepository) Set(ctx context.Context, o *entities.EnforcedOption) error {
	query := `
		INSERT INTO enforced_options (eid, msg_type, options, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (eid, msg_type) DO UPDATE SET
			options = EXCLUDED.options,
			updated_at = EXCLUDED.updated_at`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, o.Eid, o.MsgType, o.Options); err != nil {
		return fmt.Errorf("failed to set enforced options: %w", err)
	}
	return nil
}
