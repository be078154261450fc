package tranche

import (
	"fmt"
	"math/big"
)

// NumTranches is the fixed number of risk layers per vault.
const NumTranches = 3

// TrancheID indexes the fixed risk layers of a vault in waterfall priority
// order.
type TrancheID uint8

const (
	TrancheSenior TrancheID = iota
	TrancheMezzanine
	TrancheEquity
)

// Valid reports whether the identifier addresses one of the three tranches.
func (id TrancheID) Valid() bool { return id < NumTranches }

// String returns the canonical tranche name.
func (id TrancheID) String() string {
	switch id {
	case TrancheSenior:
		return "senior"
	case TrancheMezzanine:
		return "mezzanine"
	case TrancheEquity:
		return "equity"
	default:
		return fmt.Sprintf("tranche(%d)", uint8(id))
	}
}

// PoolStatus represents the lifecycle states of a vault. Transitions only move
// forward; no state ever returns to Active.
type PoolStatus uint8

const (
	StatusActive PoolStatus = iota
	StatusImpaired
	StatusDefaulted
	StatusMatured
)

// Valid reports whether the status value is within the supported range.
func (s PoolStatus) Valid() bool {
	switch s {
	case StatusActive, StatusImpaired, StatusDefaulted, StatusMatured:
		return true
	default:
		return false
	}
}

// String returns the canonical status name.
func (s PoolStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusImpaired:
		return "impaired"
	case StatusDefaulted:
		return "defaulted"
	case StatusMatured:
		return "matured"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether the vault can make no further status transition.
func (s PoolStatus) Terminal() bool { return s == StatusDefaulted }

// CanTransitionTo enforces the forward-only transition table:
// Active -> {Impaired, Matured, Defaulted}, Impaired -> Defaulted,
// Matured -> Defaulted. Everything else, including every backward move, is
// rejected.
func (s PoolStatus) CanTransitionTo(next PoolStatus) bool {
	if !next.Valid() || next == s {
		return false
	}
	switch s {
	case StatusActive:
		return next == StatusImpaired || next == StatusMatured || next == StatusDefaulted
	case StatusImpaired, StatusMatured:
		return next == StatusDefaulted
	default:
		return false
	}
}

// Tranche aggregates the share accounting for one risk layer of a vault.
type Tranche struct {
	// TargetAprBps is the coupon rate in basis points.
	TargetAprBps uint64 `json:"targetAprBps"`
	// AllocationPct is the tranche's target share of the pool in percent.
	AllocationPct uint64 `json:"allocationPct"`
	// TotalShares is the share supply across all investors, mirrored 1:1 by
	// the tranche's position token supply.
	TotalShares *big.Int `json:"totalShares"`
	// TotalDepositValue is the aggregate deposited principal.
	TotalDepositValue *big.Int `json:"totalDepositValue"`
	// YieldPerShare is the monotonically non-decreasing WAD accumulator of
	// cumulative yield credited per share.
	YieldPerShare *big.Int `json:"yieldPerShare"`
}

// Vault holds the pool-wide state for one structured-credit deal.
type Vault struct {
	ID            [32]byte   `json:"id"`
	Originator    [20]byte   `json:"originator"`
	Underlying    string     `json:"underlying"`
	ModuleAddress [20]byte   `json:"moduleAddress"`
	Status        PoolStatus `json:"status"`
	// DistributionInterval is the minimum seconds between distribution
	// triggers.
	DistributionInterval int64 `json:"distributionInterval"`
	LastDistributionTime int64 `json:"lastDistributionTime"`
	CreatedAt            int64 `json:"createdAt"`

	TotalPoolDeposited    *big.Int `json:"totalPoolDeposited"`
	TotalYieldReceived    *big.Int `json:"totalYieldReceived"`
	TotalYieldDistributed *big.Int `json:"totalYieldDistributed"`
	TotalYieldClaimed     *big.Int `json:"totalYieldClaimed"`

	Tranches [NumTranches]Tranche `json:"tranches"`
}

// Position tracks one investor's stake in one tranche. Shares mirror the
// external position-token balance for the same owner.
type Position struct {
	VaultID [32]byte   `json:"vaultId"`
	Tranche TrancheID  `json:"tranche"`
	Owner   [20]byte   `json:"owner"`
	Shares  *big.Int   `json:"shares"`
	// YieldCheckpoint is the tranche YieldPerShare value last observed for
	// this owner.
	YieldCheckpoint *big.Int `json:"yieldCheckpoint"`
	// PendingYield is settled-but-unclaimed yield carried across
	// share-changing events.
	PendingYield *big.Int `json:"pendingYield"`
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.TotalPoolDeposited = cloneBigInt(v.TotalPoolDeposited)
	clone.TotalYieldReceived = cloneBigInt(v.TotalYieldReceived)
	clone.TotalYieldDistributed = cloneBigInt(v.TotalYieldDistributed)
	clone.TotalYieldClaimed = cloneBigInt(v.TotalYieldClaimed)
	for i := range clone.Tranches {
		clone.Tranches[i].TotalShares = cloneBigInt(v.Tranches[i].TotalShares)
		clone.Tranches[i].TotalDepositValue = cloneBigInt(v.Tranches[i].TotalDepositValue)
		clone.Tranches[i].YieldPerShare = cloneBigInt(v.Tranches[i].YieldPerShare)
	}
	return &clone
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Shares = cloneBigInt(p.Shares)
	clone.YieldCheckpoint = cloneBigInt(p.YieldCheckpoint)
	clone.PendingYield = cloneBigInt(p.PendingYield)
	return &clone
}

func (v *Vault) ensureDefaults() {
	if v == nil {
		return
	}
	if v.TotalPoolDeposited == nil {
		v.TotalPoolDeposited = big.NewInt(0)
	}
	if v.TotalYieldReceived == nil {
		v.TotalYieldReceived = big.NewInt(0)
	}
	if v.TotalYieldDistributed == nil {
		v.TotalYieldDistributed = big.NewInt(0)
	}
	if v.TotalYieldClaimed == nil {
		v.TotalYieldClaimed = big.NewInt(0)
	}
	for i := range v.Tranches {
		if v.Tranches[i].TotalShares == nil {
			v.Tranches[i].TotalShares = big.NewInt(0)
		}
		if v.Tranches[i].TotalDepositValue == nil {
			v.Tranches[i].TotalDepositValue = big.NewInt(0)
		}
		if v.Tranches[i].YieldPerShare == nil {
			v.Tranches[i].YieldPerShare = big.NewInt(0)
		}
	}
}

func (p *Position) ensureDefaults() {
	if p == nil {
		return
	}
	if p.Shares == nil {
		p.Shares = big.NewInt(0)
	}
	if p.YieldCheckpoint == nil {
		p.YieldCheckpoint = big.NewInt(0)
	}
	if p.PendingYield == nil {
		p.PendingYield = big.NewInt(0)
	}
}

// CouponStates snapshots the vault's tranches for the pure waterfall library.
func (v *Vault) CouponStates() [NumTranches]CouponState {
	var states [NumTranches]CouponState
	if v == nil {
		return states
	}
	for i := range v.Tranches {
		states[i] = CouponState{
			DepositValue: cloneBigInt(v.Tranches[i].TotalDepositValue),
			TargetAprBps: v.Tranches[i].TargetAprBps,
			TotalShares:  cloneBigInt(v.Tranches[i].TotalShares),
		}
	}
	return states
}
