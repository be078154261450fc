// Package token provides the reference transferable position token. The
// ledger keeps a plaintext share mirror of these balances; this implementation
// can be swapped for a privacy-preserving variant without changing ledger
// logic, as long as the sync contract below is honoured.
package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInvalidAmount       = errors.New("position token: amount must be positive")
	ErrInsufficientBalance = errors.New("position token: insufficient balance")
	ErrNilSync             = errors.New("position token: ledger sync not bound")
)

// SyncFunc is the mandatory ledger callback for peer-to-peer transfers. The
// token must invoke it before its own balance change is observable and must
// abort the transfer when it fails, so the ledger mirror never diverges from
// the token's recorded balances. Mint and burn do not fire it; the ledger
// accounts for those directly.
type SyncFunc func(from, to [20]byte, amount *big.Int) error

// Token is an in-process transferable balance ledger for one tranche of one
// vault.
type Token struct {
	mu          sync.Mutex
	symbol      string
	syncFn      SyncFunc
	balances    map[[20]byte]*big.Int
	totalSupply *big.Int
}

// New constructs a position token bound to the given ledger sync callback.
func New(symbol string, sync SyncFunc) *Token {
	return &Token{
		symbol:      symbol,
		syncFn:      sync,
		balances:    make(map[[20]byte]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// Symbol returns the token's display symbol.
func (t *Token) Symbol() string { return t.symbol }

// BalanceOf returns the holder's current balance.
func (t *Token) BalanceOf(addr [20]byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balance(addr))
}

// TotalSupply returns the aggregate minted supply.
func (t *Token) TotalSupply() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalSupply)
}

// Mint creates amount units for the recipient. Only the owning ledger calls
// this, as part of an invest operation it has already accounted for.
func (t *Token) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	t.totalSupply = new(big.Int).Add(t.totalSupply, amount)
	return nil
}

// Burn destroys amount units held by from. Only the owning ledger calls this,
// as part of a withdraw operation it has already accounted for.
func (t *Token) Burn(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.totalSupply = new(big.Int).Sub(t.totalSupply, amount)
	return nil
}

// Transfer moves amount between two holders. The ledger sync callback runs
// first and any failure aborts the transfer with balances untouched. The
// callback executes outside the token lock: the ledger serializes on its own
// mutex and calls Mint/Burn on this token while holding it, so invoking the
// ledger under t.mu would nest the two locks in both orders. The sender
// balance is validated again after the callback before any mutation; only the
// ledger mints or burns, and it checks the mirrored shares for this same
// transfer, so a failed re-validation means the mirror already rejected it.
func (t *Token) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	syncFn := t.syncFn
	if syncFn == nil {
		t.mu.Unlock()
		return ErrNilSync
	}
	if t.balance(from).Cmp(amount) < 0 {
		t.mu.Unlock()
		return ErrInsufficientBalance
	}
	if from == to {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := syncFn(from, to, amount); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balance(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func (t *Token) balance(addr [20]byte) *big.Int {
	if bal, ok := t.balances[addr]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}
