package tranche

import (
	"errors"
	"math/big"
)

// The waterfall library is pure: no function here reads or mutates ledger
// state. The engine feeds it snapshots and persists the results.

var errNegativeInput = errors.New("tranche waterfall: negative input")

// CouponState is the per-tranche snapshot the waterfall operates on.
type CouponState struct {
	// DepositValue is the tranche's aggregate deposited principal.
	DepositValue *big.Int
	// TargetAprBps is the tranche coupon rate in basis points.
	TargetAprBps uint64
	// TotalShares is the tranche's aggregate share supply.
	TotalShares *big.Int
}

// CouponOwed returns the capped rate-based entitlement for one tranche over a
// period expressed in basis points of a year:
// depositValue * targetApr(bps) * periodFraction(bps) / 10000^2.
// A tranche with no shares or a zero rate owes nothing.
func CouponOwed(state CouponState, periodFractionBps uint64) (*big.Int, error) {
	if state.DepositValue != nil && state.DepositValue.Sign() < 0 {
		return nil, errNegativeInput
	}
	if state.TargetAprBps == 0 || state.TotalShares == nil || state.TotalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if state.DepositValue == nil || state.DepositValue.Sign() == 0 {
		return big.NewInt(0), nil
	}
	owed := new(big.Int).Mul(state.DepositValue, new(big.Int).SetUint64(state.TargetAprBps))
	owed.Mul(owed, new(big.Int).SetUint64(periodFractionBps))
	owed.Quo(owed, basisPoints)
	owed.Quo(owed, basisPoints)
	return owed, nil
}

// DistributeYield runs the waterfall for one distribution period. Senior and
// mezzanine receive at most their coupon owed, in priority order; equity
// receives whatever remains. The returned amounts always sum exactly to
// totalYield.
func DistributeYield(totalYield *big.Int, states [NumTranches]CouponState, periodFractionBps uint64) ([NumTranches]*big.Int, error) {
	var amounts [NumTranches]*big.Int
	for i := range amounts {
		amounts[i] = big.NewInt(0)
	}
	if totalYield == nil || totalYield.Sign() < 0 {
		return amounts, errNegativeInput
	}
	remaining := new(big.Int).Set(totalYield)
	for _, id := range []TrancheID{TrancheSenior, TrancheMezzanine} {
		owed, err := CouponOwed(states[id], periodFractionBps)
		if err != nil {
			return amounts, err
		}
		paid := owed
		if remaining.Cmp(owed) < 0 {
			paid = new(big.Int).Set(remaining)
		}
		amounts[id] = paid
		remaining = new(big.Int).Sub(remaining, paid)
	}
	// Equity takes the residual, which may be zero but never negative.
	amounts[TrancheEquity] = remaining
	return amounts, nil
}

// AllocateLoss absorbs totalLoss in reverse priority order: equity first, then
// mezzanine, then senior. Each tranche absorbs at most its current value; any
// loss beyond the sum of all tranche values is not represented and the caller
// must track the shortfall separately.
func AllocateLoss(totalLoss *big.Int, values [NumTranches]*big.Int) ([NumTranches]*big.Int, error) {
	var losses [NumTranches]*big.Int
	for i := range losses {
		losses[i] = big.NewInt(0)
	}
	if totalLoss == nil || totalLoss.Sign() < 0 {
		return losses, errNegativeInput
	}
	remaining := new(big.Int).Set(totalLoss)
	for _, id := range []TrancheID{TrancheEquity, TrancheMezzanine, TrancheSenior} {
		if remaining.Sign() == 0 {
			break
		}
		value := values[id]
		if value == nil || value.Sign() <= 0 {
			continue
		}
		absorbed := new(big.Int).Set(remaining)
		if absorbed.Cmp(value) > 0 {
			absorbed = new(big.Int).Set(value)
		}
		losses[id] = absorbed
		remaining = new(big.Int).Sub(remaining, absorbed)
	}
	return losses, nil
}

// YieldPerShareDelta converts a tranche-level payout into the accumulator
// increment credited per share, at WAD scale.
func YieldPerShareDelta(amount, totalShares *big.Int) (*big.Int, error) {
	if totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return DivWad(amount, totalShares)
}

// OwedYield computes the yield newly accrued to a holder since their last
// checkpoint. A checkpoint at or ahead of the current accumulator owes zero.
func OwedYield(shares, currentAccumulator, checkpointAccumulator *big.Int) (*big.Int, error) {
	current := cloneBigInt(currentAccumulator)
	checkpoint := cloneBigInt(checkpointAccumulator)
	if current.Cmp(checkpoint) <= 0 {
		return big.NewInt(0), nil
	}
	delta := new(big.Int).Sub(current, checkpoint)
	return MulWad(cloneBigInt(shares), delta)
}
