package oft

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/repositories"
)

// Token is the value side of a transfer. Native tokens burn and mint,
// adapters lock and unlock an external token.
type Token interface {
	Mode() string
	Decimals() uint8
	// Debit removes amountLD from the sender before a send
	Debit(ctx context.Context, from common.Address, amountLD *uint256.Int) error
	// Credit delivers amountLD to a recipient
	Credit(ctx context.Context, to common.Address, amountLD *uint256.Int) error
	// CanDebit fails with the error Debit would return, without moving funds
	CanDebit(ctx context.Context, from common.Address, amountLD *uint256.Int) error
	// CanCredit fails with the error Credit would return, without moving funds
	CanCredit(ctx context.Context, amountLD *uint256.Int) error
	// Transactional reports whether Debit and Credit roll back with the store
	// transaction. Non-transactional tokens are moved only once the outcome
	// they depend on is settled.
	Transactional() bool
}

const (
	ModeNative  = "native"
	ModeAdapter = "adapter"
)

// NativeToken is the bridge's own token kept in the balance ledger
type NativeToken struct {
	balances repositories.BalanceRepository
	decimals uint8
}

// NewNativeToken creates a burn/mint token over balances
func NewNativeToken(balances repositories.BalanceRepository, decimals uint8) *NativeToken {
	return &NativeToken{balances: balances, decimals: decimals}
}

func (t *NativeToken) Mode() string    { return ModeNative }
func (t *NativeToken) Decimals() uint8 { return t.decimals }

// Debit burns from the sender's balance
func (t *NativeToken) Debit(ctx context.Context, from common.Address, amountLD *uint256.Int) error {
	return t.balances.Debit(ctx, from, amountLD)
}

// Credit mints to the recipient
func (t *NativeToken) Credit(ctx context.Context, to common.Address, amountLD *uint256.Int) error {
	return t.balances.Credit(ctx, to, amountLD)
}

// CanDebit checks the sender's balance
func (t *NativeToken) CanDebit(ctx context.Context, from common.Address, amountLD *uint256.Int) error {
	balance, err := t.balances.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Lt(amountLD) {
		return entities.ErrInsufficientBalance
	}
	return nil
}

// CanCredit always succeeds, minting has no upper bound below uint256
func (t *NativeToken) CanCredit(context.Context, *uint256.Int) error { return nil }

func (t *NativeToken) Transactional() bool { return true }
