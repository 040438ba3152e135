package oft

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
	"github.com/mbtc-bridge/oft_service/pkg/metrics"
)

// ExternalToken is the ERC-20 style token an adapter wraps
type ExternalToken interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// AdapterBinding locks an external token in bridge custody on send and
// releases it on receive. Custody always covers the amount minted remotely.
type AdapterBinding struct {
	token   ExternalToken
	custody common.Address
	logger  *logger.Logger
}

// NewAdapterBinding binds token with custody held by the bridge address
func NewAdapterBinding(token ExternalToken, custody common.Address, logger *logger.Logger) *AdapterBinding {
	return &AdapterBinding{token: token, custody: custody, logger: logger}
}

func (a *AdapterBinding) Mode() string                 { return ModeAdapter }
func (a *AdapterBinding) Decimals() uint8              { return a.token.Decimals() }
func (a *AdapterBinding) Transactional() bool          { return false }
func (a *AdapterBinding) TokenAddress() common.Address { return a.token.Address() }
func (a *AdapterBinding) Custody() common.Address      { return a.custody }

// Lock pulls amount from owner into custody using the owner's allowance
func (a *AdapterBinding) Lock(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	if err := a.CanDebit(ctx, owner, amount); err != nil {
		return err
	}
	if err := a.token.TransferFrom(ctx, a.custody, owner, a.custody, amount); err != nil {
		return fmt.Errorf("failed to lock tokens: %w", err)
	}
	a.logger.Debug("Tokens locked", "owner", owner.Hex(), "amount", amount.Dec())
	return nil
}

// Unlock releases amount from custody. A shortfall means custody no longer
// backs remote supply and is reported as an invariant violation.
func (a *AdapterBinding) Unlock(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := a.CanCredit(ctx, amount); err != nil {
		return err
	}
	if err := a.token.Transfer(ctx, a.custody, to, amount); err != nil {
		return fmt.Errorf("failed to unlock tokens: %w", err)
	}
	a.logger.Debug("Tokens unlocked", "to", to.Hex(), "amount", amount.Dec())
	return nil
}

// CanDebit checks the owner's allowance for custody and balance
func (a *AdapterBinding) CanDebit(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	allowance, err := a.token.Allowance(ctx, owner, a.custody)
	if err != nil {
		return fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Lt(amount) {
		return entities.ErrInsufficientAllowance
	}
	balance, err := a.token.BalanceOf(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	if balance.Lt(amount) {
		return entities.ErrInsufficientBalance
	}
	return nil
}

// CanCredit checks that custody covers amount
func (a *AdapterBinding) CanCredit(ctx context.Context, amount *uint256.Int) error {
	held, err := a.token.BalanceOf(ctx, a.custody)
	if err != nil {
		return fmt.Errorf("failed to read custody balance: %w", err)
	}
	if held.Lt(amount) {
		metrics.CustodyInvariantViolations.Inc()
		a.logger.Error("Custody balance below unlock amount",
			"token", a.token.Address().Hex(),
			"custody", held.Dec(),
			"amount", amount.Dec())
		return entities.ErrInsufficientCustody
	}
	return nil
}

// Debit implements Token
func (a *AdapterBinding) Debit(ctx context.Context, from common.Address, amountLD *uint256.Int) error {
	return a.Lock(ctx, from, amountLD)
}

// Credit implements Token
func (a *AdapterBinding) Credit(ctx context.Context, to common.Address, amountLD *uint256.Int) error {
	return a.Unlock(ctx, to, amountLD)
}
