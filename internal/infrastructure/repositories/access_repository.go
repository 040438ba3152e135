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

type roleRow struct {
	Account   string    `db:"account"`
	Role      string    `db:"role"`
	GrantedBy string    `db:"granted_by"`
	GrantedAt time.Time `db:"granted_at"`
}

func (row roleRow) toEntity() *entities.RoleAssignment {
	return &entities.RoleAssignment{
		Account:   common.HexToAddress(row.Account),
		Role:      entities.Role(row.Role),
		GrantedBy: common.HexToAddress(row.GrantedBy),
		GrantedAt: row.GrantedAt,
	}
}

// RoleRepository stores role assignments in Postgres
type RoleRepository struct {
	db *sqlx.DB
}

func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) HasRole(ctx context.Context, account common.Address, role entities.Role) (bool, error) {
	var ok bool
	query := `SELECT EXISTS(SELECT 1 FROM role_assignments WHERE role = $1 AND account = $2)`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &ok, query, string(role), addressKey(account)); err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return ok, nil
}

func (r *RoleRepository) Grant(ctx context.Context, a *entities.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (account, role, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, account) DO NOTHING`
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, query,
		addressKey(a.Account), string(a.Role), addressKey(a.GrantedBy), utc(a.GrantedAt))
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

func (r *RoleRepository) Revoke(ctx context.Context, account common.Address, role entities.Role) error {
	query := `DELETE FROM role_assignments WHERE role = $1 AND account = $2`
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, string(role), addressKey(account)); err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// CountMembers locks the role's rows so concurrent revocations of the last
// admin serialize on them
func (r *RoleRepository) CountMembers(ctx context.Context, role entities.Role) (int, error) {
	query := `SELECT account FROM role_assignments WHERE role = $1`
	if database.InTx(ctx) {
		query += ` FOR UPDATE`
	}

	var accounts []string
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &accounts, query, string(role)); err != nil {
		return 0, fmt.Errorf("failed to count role members: %w", err)
	}
	return len(accounts), nil
}

func (r *RoleRepository) ListMembers(ctx context.Context, role entities.Role) ([]*entities.RoleAssignment, error) {
	var rows []roleRow
	query := `
		SELECT account, role, granted_by, granted_at FROM role_assignments
		WHERE role = $1 ORDER BY granted_at, account`
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query, string(role)); err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}

	out := make([]*entities.RoleAssignment, len(rows))
	for i, row := range rows {
		out[i] = row.toEntity()
	}
	return out, nil
}

type pauseRow struct {
	Class     string    `db:"class"`
	Paused    bool      `db:"paused"`
	UpdatedBy string    `db:"updated_by"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PauseRepository stores pause flags in Postgres
type PauseRepository struct {
	db *sqlx.DB
}

func NewPauseRepository(db *sqlx.DB) *PauseRepository {
	return &PauseRepository{db: db}
}

func (r *PauseRepository) Get(ctx context.Context, class entities.PauseClass) (*entities.PauseState, error) {
	var row pauseRow
	query := `SELECT class, paused, updated_by, updated_at FROM pause_flags WHERE class = $1`
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &row, query, string(class)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pause flag: %w", err)
	}
	return &entities.PauseState{
		Class:     entities.PauseClass(row.Class),
		Paused:    row.Paused,
		UpdatedBy: common.HexToAddress(row.UpdatedBy),
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (r *PauseRepository) Set(ctx context.Context, s *entities.PauseState) error {
	query := `
		INSERT INTO pause_flags (class, paused, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (class) DO UPDATE SET
			paused = EXCLUDED.paused,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, query,
		string(s.Class), s.Paused, addressKey(s.UpdatedBy), utc(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to set pause flag: %w", err)
	}
	return nil
}
