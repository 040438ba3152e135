package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// AccessController gates issuance
type AccessController interface {
	RequireRole(ctx context.Context, account common.Address, role entities.Role) error
	RequireNotPaused(ctx context.Context, class entities.PauseClass) error
}

// Service is the balance ledger of the native token
type Service struct {
	balances repositories.BalanceRepository
	access   AccessController
	tx       repositories.TxRunner
	logger   *logger.Logger
}

// NewService creates a new ledger service
func NewService(balances repositories.BalanceRepository, access AccessController, tx repositories.TxRunner, logger *logger.Logger) *Service {
	return &Service{
		balances: balances,
		access:   access,
		tx:       tx,
		logger:   logger,
	}
}

// Mint issues amount to the recipient. Requires the minter role and an unpaused mint class.
func (s *Service) Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return entities.ErrZeroAmount
	}
	if err := s.access.RequireRole(ctx, caller, entities.RoleMinter); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.access.RequireNotPaused(ctx, entities.PauseClassMint); err != nil {
			return err
		}
		if err := s.balances.Credit(ctx, to, amount); err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}
		s.logger.Info("Tokens minted", "to", to.Hex(), "amount", amount.Dec(), "by", caller.Hex())
		return nil
	})
}

// BalanceOf returns the account balance in local decimals
func (s *Service) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return s.balances.BalanceOf(ctx, account)
}

// TotalSupply returns the sum of all balances
func (s *Service) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return s.balances.TotalSupply(ctx)
}
