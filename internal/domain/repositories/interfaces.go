package repositories

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// TxRunner runs fn inside a store transaction carried by the context.
// Nested calls join the outer transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RateLimitRepository persists per-destination rate limit state.
// Get returns nil, nil when the destination has never been configured.
type RateLimitRepository interface {
	Get(ctx context.Context, dstEid uint32) (*entities.RateLimit, error)
	GetForUpdate(ctx context.Context, dstEid uint32) (*entities.RateLimit, error)
	Save(ctx context.Context, rl *entities.RateLimit) error
	List(ctx context.Context) ([]*entities.RateLimit, error)
}

// RoleRepository persists role assignments
type RoleRepository interface {
	HasRole(ctx context.Context, account common.Address, role entities.Role) (bool, error)
	Grant(ctx context.Context, assignment *entities.RoleAssignment) error
	Revoke(ctx context.Context, account common.Address, role entities.Role) error
	// CountMembers locks the role's rows when called inside a transaction
	CountMembers(ctx context.Context, role entities.Role) (int, error)
	ListMembers(ctx context.Context, role entities.Role) ([]*entities.RoleAssignment, error)
}

// PauseRepository persists pause flags. Get returns nil, nil for a class never set.
type PauseRepository interface {
	Get(ctx context.Context, class entities.PauseClass) (*entities.PauseState, error)
	Set(ctx context.Context, state *entities.PauseState) error
}

// PeerRepository persists remote counterparts. Get returns nil, nil when unset.
type PeerRepository interface {
	Get(ctx context.Context, eid uint32) (*entities.Peer, error)
	Set(ctx context.Context, peer *entities.Peer) error
	List(ctx context.Context) ([]*entities.Peer, error)
}

// EnforcedOptionRepository persists minimum executor options. Get returns nil, nil when unset.
type EnforcedOptionRepository interface {
	Get(ctx context.Context, eid uint32, msgType uint16) (*entities.EnforcedOption, error)
	Set(ctx context.Context, opt *entities.EnforcedOption) error
}

// BalanceRepository is the native token ledger
type BalanceRepository interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Credit(ctx context.Context, account common.Address, amount *uint256.Int) error
	// Debit fails with entities.ErrInsufficientBalance and leaves the balance untouched
	Debit(ctx context.Context, account common.Address, amount *uint256.Int) error
	TotalSupply(ctx context.Context) (*uint256.Int, error)
}

// ProcessedMessageRepository is the inbound replay ledger
type ProcessedMessageRepository interface {
	Exists(ctx context.Context, guid common.Hash) (bool, error)
	// MarkProcessed fails with entities.ErrDuplicateMessage if the guid is already recorded
	MarkProcessed(ctx context.Context, msg *entities.ProcessedMessage) error
}
