// Package asset provides an in-process fungible token with standard
// balance, transfer, and allowance semantics. It backs dev mode and tests;
// production deployments swap in an adapter over the real asset rails.
package asset

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

// MemToken is an in-memory domain.Token. Safe for concurrent use.
type MemToken struct {
	mu sync.Mutex

	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

var _ domain.Token = (*MemToken)(nil)

func NewMemToken(symbol string) *MemToken {
	return &MemToken{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *MemToken) Symbol() string { return t.symbol }

// Mint credits amount to owner. Test and dev-mode seeding only.
func (t *MemToken) Mint(owner common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(owner, amount)
}

func (t *MemToken) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (t *MemToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemToken) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("asset: %s approve: %w", t.symbol, domain.ErrZeroAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

func (t *MemToken) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a), nil
		}
	}
	return big.NewInt(0), nil
}

func (t *MemToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := big.NewInt(0)
	if m, ok := t.allowances[from]; ok {
		if a, ok := m[spender]; ok {
			allowed = a
		}
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("asset: %s transferFrom %s by %s: %w",
			t.symbol, from.Hex(), spender.Hex(), domain.ErrInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// move requires the lock.
func (t *MemToken) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("asset: %s transfer: %w", t.symbol, domain.ErrZeroAmount)
	}
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("asset: %s transfer %s from %s: %w",
			t.symbol, amount, from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	t.credit(to, amount)
	return nil
}

// credit requires the lock.
func (t *MemToken) credit(owner common.Address, amount *big.Int) {
	if b, ok := t.balances[owner]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[owner] = new(big.Int).Set(amount)
}
