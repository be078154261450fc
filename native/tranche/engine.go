package tranche

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"strata/core/events"
	"strata/core/types"
)

var (
	ErrNilState                = errors.New("tranche engine: state not configured")
	ErrVaultNotFound           = errors.New("tranche engine: vault not found")
	ErrVaultExists             = errors.New("tranche engine: vault already exists")
	ErrInvalidTranche          = errors.New("tranche engine: invalid tranche index")
	ErrInvalidAmount           = errors.New("tranche engine: amount must be positive")
	ErrPoolNotActive           = errors.New("tranche engine: pool not active")
	ErrPoolDefaulted           = errors.New("tranche engine: pool defaulted")
	ErrInsufficientShares      = errors.New("tranche engine: insufficient shares")
	ErrInsufficientBalance     = errors.New("tranche engine: insufficient balance")
	ErrInvalidStatusTransition = errors.New("tranche engine: invalid status transition")
	ErrUnauthorized            = errors.New("tranche engine: caller not originator")
	ErrDistributionTooSoon     = errors.New("tranche engine: distribution interval not elapsed")
	ErrReentrantCall           = errors.New("tranche engine: reentrant call rejected")
	ErrTokenNotBound           = errors.New("tranche engine: position token not bound")
)

// secondsPerYear is the coupon quotation basis: a 365-day year.
const secondsPerYear = 31_536_000

// State is the persistence boundary for the engine. Get methods return nil
// without error when a record is absent.
type State interface {
	GetVault(id [32]byte) (*Vault, error)
	PutVault(v *Vault) error
	GetPosition(vaultID [32]byte, tranche TrancheID, owner [20]byte) (*Position, error)
	PutPosition(p *Position) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
}

// PositionToken is the external transferable token mirroring one tranche's
// share ledger. Mint and Burn are callable only by the owning engine and must
// not fire the peer-transfer sync hook.
type PositionToken interface {
	Mint(to [20]byte, amount *big.Int) error
	Burn(from [20]byte, amount *big.Int) error
}

// Engine orchestrates the tranche ledger: invest, withdraw, claim, waterfall
// distribution, status transitions and the position-token mirror hook. Every
// public operation is serialized against the instance mutex; nested re-entry
// from a collaborator callback is rejected rather than deadlocked.
type Engine struct {
	mu         sync.Mutex
	inCallback atomic.Bool

	state   State
	emitter events.Emitter
	nowFn   func() int64
	tokens  map[[32]byte][NumTranches]PositionToken
}

// NewEngine creates a tranche engine with a no-op emitter. Callers wire the
// persistence layer via SetState and can override the emitter and clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		tokens:  make(map[[32]byte][NumTranches]PositionToken),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// BindTokens registers the three position tokens backing a vault. The factory
// calls this during finalization; operations that mint or burn fail with
// ErrTokenNotBound until it has run.
func (e *Engine) BindTokens(vaultID [32]byte, tokens [NumTranches]PositionToken) {
	if e.tokens == nil {
		e.tokens = make(map[[32]byte][NumTranches]PositionToken)
	}
	e.tokens[vaultID] = tokens
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ledgerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// begin rejects nested re-entry before taking the serialization lock. The
// callback flag is raised only while a collaborator (token mint/burn) is
// executing inside an in-flight operation, so a re-entrant call observes it
// on the same goroutine and fails fast instead of deadlocking on the mutex.
// Cross-lock ordering with the token is always engine then token: the token
// must invoke its ledger sync callback without holding its own lock.
func (e *Engine) begin() (func(), error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.inCallback.Load() {
		return nil, ErrReentrantCall
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

func (e *Engine) callCollaborator(fn func() error) error {
	e.inCallback.Store(true)
	defer e.inCallback.Store(false)
	return fn()
}

func (e *Engine) loadVault(id [32]byte) (*Vault, error) {
	vault, err := e.state.GetVault(id)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, ErrVaultNotFound
	}
	vault.ensureDefaults()
	return vault, nil
}

func (e *Engine) loadPosition(vaultID [32]byte, tranche TrancheID, owner [20]byte) (*Position, error) {
	pos, err := e.state.GetPosition(vaultID, tranche, owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{VaultID: vaultID, Tranche: tranche, Owner: owner}
	}
	pos.ensureDefaults()
	return pos, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

func (e *Engine) vaultTokens(vaultID [32]byte) ([NumTranches]PositionToken, error) {
	tokens, ok := e.tokens[vaultID]
	if !ok {
		return tokens, ErrTokenNotBound
	}
	for i := range tokens {
		if tokens[i] == nil {
			return tokens, ErrTokenNotBound
		}
	}
	return tokens, nil
}

// settle folds the yield accrued since the position's checkpoint into its
// pending balance and advances the checkpoint. It must run before any share
// change for the position, so newly acquired shares never earn yield accrued
// before acquisition. Calling it twice with no intervening share change is a
// no-op on the pending balance.
func settle(v *Vault, id TrancheID, pos *Position) error {
	accumulator := v.Tranches[id].YieldPerShare
	owed, err := OwedYield(pos.Shares, accumulator, pos.YieldCheckpoint)
	if err != nil {
		return err
	}
	if owed.Sign() > 0 {
		pos.PendingYield = new(big.Int).Add(pos.PendingYield, owed)
	}
	pos.YieldCheckpoint = cloneBigInt(accumulator)
	return nil
}

// Invest pulls amount of underlying from the caller, credits the beneficiary's
// position in the given tranche and mints the matching position-token units.
// Only permitted while the pool is Active.
func (e *Engine) Invest(vaultID [32]byte, id TrancheID, caller, beneficiary [20]byte, amount *big.Int) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if !id.Valid() {
		return ErrInvalidTranche
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if vault.Status != StatusActive {
		return ErrPoolNotActive
	}
	tokens, err := e.vaultTokens(vaultID)
	if err != nil {
		return err
	}

	pos, err := e.loadPosition(vaultID, id, beneficiary)
	if err != nil {
		return err
	}
	if err := settle(vault, id, pos); err != nil {
		return err
	}

	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	if callerAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(vault.ModuleAddress)
	if err != nil {
		return err
	}
	callerAcc.Balance = new(big.Int).Sub(callerAcc.Balance, amount)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, amount)

	pos.Shares = new(big.Int).Add(pos.Shares, amount)
	vault.Tranches[id].TotalShares = new(big.Int).Add(vault.Tranches[id].TotalShares, amount)
	vault.Tranches[id].TotalDepositValue = new(big.Int).Add(vault.Tranches[id].TotalDepositValue, amount)
	vault.TotalPoolDeposited = new(big.Int).Add(vault.TotalPoolDeposited, amount)

	// Mirror mint happens before any persist so a token failure aborts the
	// operation with no state written.
	if err := e.callCollaborator(func() error { return tokens[id].Mint(beneficiary, amount) }); err != nil {
		return err
	}

	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(vault.ModuleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutVault(vault); err != nil {
		return err
	}
	e.emit(NewInvestedEvent(vault, id, beneficiary, amount))
	return nil
}

// Withdraw burns amount of the caller's shares and returns the same amount of
// underlying. Allowed in any non-defaulted status so investors can exit a
// non-Active pool.
func (e *Engine) Withdraw(vaultID [32]byte, id TrancheID, caller [20]byte, amount *big.Int) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if !id.Valid() {
		return ErrInvalidTranche
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if vault.Status.Terminal() {
		return ErrPoolDefaulted
	}
	tokens, err := e.vaultTokens(vaultID)
	if err != nil {
		return err
	}

	pos, err := e.loadPosition(vaultID, id, caller)
	if err != nil {
		return err
	}
	if pos.Shares.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	if err := settle(vault, id, pos); err != nil {
		return err
	}

	moduleAcc, err := e.loadAccount(vault.ModuleAddress)
	if err != nil {
		return err
	}
	if moduleAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, amount)
	callerAcc.Balance = new(big.Int).Add(callerAcc.Balance, amount)

	pos.Shares = new(big.Int).Sub(pos.Shares, amount)
	vault.Tranches[id].TotalShares = new(big.Int).Sub(vault.Tranches[id].TotalShares, amount)
	vault.Tranches[id].TotalDepositValue = SaturatingSub(vault.Tranches[id].TotalDepositValue, amount)
	vault.TotalPoolDeposited = SaturatingSub(vault.TotalPoolDeposited, amount)

	if err := e.callCollaborator(func() error { return tokens[id].Burn(caller, amount) }); err != nil {
		return err
	}

	if err := e.state.PutAccount(vault.ModuleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutVault(vault); err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(vault, id, caller, amount))
	return nil
}

// ClaimYield settles and pays out the caller's accrued yield for one tranche.
// Returns zero with no state change when nothing is owed.
func (e *Engine) ClaimYield(vaultID [32]byte, id TrancheID, caller [20]byte) (*big.Int, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	if !id.Valid() {
		return nil, ErrInvalidTranche
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status.Terminal() {
		return nil, ErrPoolDefaulted
	}

	pos, err := e.loadPosition(vaultID, id, caller)
	if err != nil {
		return nil, err
	}
	if err := settle(vault, id, pos); err != nil {
		return nil, err
	}
	payout := cloneBigInt(pos.PendingYield)
	if payout.Sign() == 0 {
		return big.NewInt(0), nil
	}

	moduleAcc, err := e.loadAccount(vault.ModuleAddress)
	if err != nil {
		return nil, err
	}
	if moduleAcc.Balance.Cmp(payout) < 0 {
		return nil, ErrInsufficientBalance
	}
	callerAcc, err := e.loadAccount(caller)
	if err != nil {
		return nil, err
	}
	moduleAcc.Balance = new(big.Int).Sub(moduleAcc.Balance, payout)
	callerAcc.Balance = new(big.Int).Add(callerAcc.Balance, payout)

	pos.PendingYield = big.NewInt(0)
	vault.TotalYieldClaimed = new(big.Int).Add(vault.TotalYieldClaimed, payout)

	if err := e.state.PutAccount(vault.ModuleAddress, moduleAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(caller, callerAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewYieldClaimedEvent(vault, id, caller, payout))
	return payout, nil
}

// NotifyYield transfers yield from the payer into the vault and records it in
// the pool aggregates. Underlying sent straight to the vault account without
// this call is still picked up by the next distribution trigger.
func (e *Engine) NotifyYield(vaultID [32]byte, from [20]byte, amount *big.Int) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if vault.Status.Terminal() {
		return ErrPoolDefaulted
	}

	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	moduleAcc, err := e.loadAccount(vault.ModuleAddress)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	moduleAcc.Balance = new(big.Int).Add(moduleAcc.Balance, amount)
	vault.TotalYieldReceived = new(big.Int).Add(vault.TotalYieldReceived, amount)

	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(vault.ModuleAddress, moduleAcc); err != nil {
		return err
	}
	if err := e.state.PutVault(vault); err != nil {
		return err
	}
	e.emit(NewYieldReceivedEvent(vault, from, amount))
	return nil
}

// TriggerDistribution runs the waterfall over the yield accumulated since the
// last trigger. It is permissionless, gated on the distribution interval, and
// a no-op success when no yield is available. Returns the total credited to
// tranche accumulators.
func (e *Engine) TriggerDistribution(vaultID [32]byte) (*big.Int, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()

	vault, err := e.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	if vault.Status != StatusActive {
		return nil, ErrPoolNotActive
	}
	now := e.now()
	elapsed := now - vault.LastDistributionTime
	if elapsed < vault.DistributionInterval {
		return nil, ErrDistributionTooSoon
	}

	moduleAcc, err := e.loadAccount(vault.ModuleAddress)
	if err != nil {
		return nil, err
	}
	undistributed := SaturatingSub(vault.TotalYieldDistributed, vault.TotalYieldClaimed)
	reserved := new(big.Int).Add(vault.TotalPoolDeposited, undistributed)
	available := new(big.Int).Sub(moduleAcc.Balance, reserved)
	if available.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	// Elapsed time in basis points of a year, floored at 1 bps so a short
	// period never rounds every coupon to zero.
	periodBps := uint64(elapsed) * 10_000 / secondsPerYear
	if periodBps == 0 {
		periodBps = 1
	}

	amounts, err := DistributeYield(available, vault.CouponStates(), periodBps)
	if err != nil {
		return nil, err
	}

	applied := big.NewInt(0)
	for i := range amounts {
		if amounts[i].Sign() == 0 {
			continue
		}
		shares := vault.Tranches[i].TotalShares
		if shares == nil || shares.Sign() == 0 {
			// Nothing holds this tranche; its amount stays in the vault
			// balance and reappears as available yield next trigger.
			amounts[i] = big.NewInt(0)
			continue
		}
		delta, err := YieldPerShareDelta(amounts[i], shares)
		if err != nil {
			return nil, err
		}
		vault.Tranches[i].YieldPerShare = new(big.Int).Add(vault.Tranches[i].YieldPerShare, delta)
		applied = new(big.Int).Add(applied, amounts[i])
	}

	vault.TotalYieldDistributed = new(big.Int).Add(vault.TotalYieldDistributed, applied)
	if vault.TotalYieldReceived.Cmp(vault.TotalYieldDistributed) < 0 {
		// Underlying arrived at the vault account without a NotifyYield call;
		// recognise it now so distributed never exceeds received.
		vault.TotalYieldReceived = new(big.Int).Set(vault.TotalYieldDistributed)
	}
	vault.LastDistributionTime = now

	if err := e.state.PutVault(vault); err != nil {
		return nil, err
	}
	e.emit(NewDistributedEvent(vault, amounts, periodBps))
	return applied, nil
}

// SetStatus advances the pool status. Only the originator may call it and only
// forward transitions are accepted.
func (e *Engine) SetStatus(vaultID [32]byte, caller [20]byte, next PoolStatus) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	vault, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if caller != vault.Originator {
		return ErrUnauthorized
	}
	if !vault.Status.CanTransitionTo(next) {
		return ErrInvalidStatusTransition
	}
	previous := vault.Status
	vault.Status = next
	if err := e.state.PutVault(vault); err != nil {
		return err
	}
	e.emit(NewStatusChangedEvent(vault, previous))
	return nil
}

// OnShareTransfer is the mirror-synchronization hook the position token must
// invoke for every peer-to-peer transfer, before its own balance change is
// observable. Both parties are settled against the current accumulator, then
// the plaintext share mirror moves by the transferred amount. Any error here
// must abort the token transfer itself.
func (e *Engine) OnShareTransfer(vaultID [32]byte, id TrancheID, from, to [20]byte, amount *big.Int) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if !id.Valid() {
		return ErrInvalidTranche
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return nil
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return err
	}
	if vault.Status.Terminal() {
		return ErrPoolDefaulted
	}

	sender, err := e.loadPosition(vaultID, id, from)
	if err != nil {
		return err
	}
	if sender.Shares.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	receiver, err := e.loadPosition(vaultID, id, to)
	if err != nil {
		return err
	}

	// Settle both sides before the share move: the sender keeps everything
	// accrued to date and the receiver starts from the current accumulator
	// with no retroactive entitlement.
	if err := settle(vault, id, sender); err != nil {
		return err
	}
	if err := settle(vault, id, receiver); err != nil {
		return err
	}

	sender.Shares = new(big.Int).Sub(sender.Shares, amount)
	receiver.Shares = new(big.Int).Add(receiver.Shares, amount)

	if err := e.state.PutPosition(sender); err != nil {
		return err
	}
	return e.state.PutPosition(receiver)
}

// PreviewLossAllocation applies the reverse waterfall to the vault's current
// tranche deposit values without mutating any state. The pure AllocateLoss
// capability is exposed this way until an impairment-settlement operation
// defines a mutating trigger.
func (e *Engine) PreviewLossAllocation(vaultID [32]byte, loss *big.Int) ([NumTranches]*big.Int, error) {
	var losses [NumTranches]*big.Int
	done, err := e.begin()
	if err != nil {
		return losses, err
	}
	defer done()

	vault, err := e.loadVault(vaultID)
	if err != nil {
		return losses, err
	}
	var values [NumTranches]*big.Int
	for i := range values {
		values[i] = cloneBigInt(vault.Tranches[i].TotalDepositValue)
	}
	return AllocateLoss(loss, values)
}

// VaultInfo returns a deep copy of the vault record.
func (e *Engine) VaultInfo(vaultID [32]byte) (*Vault, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// PositionInfo returns a deep copy of one investor's position record.
func (e *Engine) PositionInfo(vaultID [32]byte, id TrancheID, owner [20]byte) (*Position, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	if !id.Valid() {
		return nil, ErrInvalidTranche
	}
	if _, err := e.loadVault(vaultID); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(vaultID, id, owner)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// ClaimableYield reports the total yield the owner could claim right now:
// settled pending yield plus anything accrued since the last checkpoint. The
// stored position is not modified.
func (e *Engine) ClaimableYield(vaultID [32]byte, id TrancheID, owner [20]byte) (*big.Int, error) {
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	if !id.Valid() {
		return nil, ErrInvalidTranche
	}
	vault, err := e.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(vaultID, id, owner)
	if err != nil {
		return nil, err
	}
	owed, err := OwedYield(pos.Shares, vault.Tranches[id].YieldPerShare, pos.YieldCheckpoint)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(pos.PendingYield, owed), nil
}
