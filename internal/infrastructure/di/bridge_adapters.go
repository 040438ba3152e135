package di

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
	"github.com/mbtc-bridge/oft_service/internal/domain/services/access"
	"github.com/mbtc-bridge/oft_service/internal/infrastructure/adapters/erc20"
	"github.com/mbtc-bridge/oft_service/pkg/logger"
)

// FaucetMinter issues the external token in adapter mode. It applies the
// same role and pause checks as native minting.
type FaucetMinter struct {
	token  *erc20.Token
	access *access.Service
	logger *logger.Logger
}

func NewFaucetMinter(token *erc20.Token, accessService *access.Service, logger *logger.Logger) *FaucetMinter {
	return &FaucetMinter{token: token, access: accessService, logger: logger}
}

func (f *FaucetMinter) Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return entities.ErrZeroAmount
	}
	if err := f.access.RequireRole(ctx, caller, entities.RoleMinter); err != nil {
		return err
	}
	if err := f.access.RequireNotPaused(ctx, entities.PauseClassMint); err != nil {
		return err
	}
	if err := f.token.Mint(ctx, to, amount); err != nil {
		return fmt.Errorf("failed to mint external token: %w", err)
	}
	f.logger.Info("External tokens minted", "token", f.token.Address().Hex(), "to", to.Hex(), "amount", amount.Dec(), "by", caller.Hex())
	return nil
}

// tokenLedger reads balances from the external token in adapter mode
type tokenLedger struct {
	token *erc20.Token
}

func (l tokenLedger) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return l.token.BalanceOf(ctx, account)
}

func (l tokenLedger) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return l.token.TotalSupply(ctx)
}
