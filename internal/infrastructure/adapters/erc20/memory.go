// Package erc20 provides an in-process ERC-20 token used as the external
// token in adapter mode for local runs and tests.
package erc20

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/mbtc-bridge/oft_service/internal/domain/entities"
)

// Token is an in-memory ERC-20
type Token struct {
	mu         sync.RWMutex
	address    common.Address
	name       string
	symbol     string
	decimals   uint8
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     *uint256.Int
}

func New(address common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(account).Clone(), nil
}

func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowance(owner, spender).Clone(), nil
}

func (t *Token) TotalSupply(_ context.Context) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply.Clone(), nil
}

// Approve sets spender's allowance over owner's balance
func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = amount.Clone()
	return nil
}

// Mint creates amount for to
func (t *Token) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	t.supply = new(uint256.Int).Add(t.supply, amount)
	return nil
}

// Transfer moves amount from from to to
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount on behalf of spender, spending its allowance.
// An all-ones allowance is treated as unlimited.
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(from, spender)
	if allowance.Lt(amount) {
		return entities.ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(entities.MaxAmount) && !amount.IsZero() {
		t.allowances[from][spender] = new(uint256.Int).Sub(allowance, amount)
	}
	return nil
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	bal := t.balanceOf(from)
	if bal.Lt(amount) {
		return entities.ErrInsufficientBalance
	}
	t.balances[from] = new(uint256.Int).Sub(bal, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	return nil
}

func (t *Token) balanceOf(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *Token) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}
