package tranche

import (
	"math/big"
	"testing"
)

func referenceStates() [NumTranches]CouponState {
	return [NumTranches]CouponState{
		TrancheSenior:    {DepositValue: big.NewInt(700_000), TargetAprBps: 500, TotalShares: big.NewInt(700_000)},
		TrancheMezzanine: {DepositValue: big.NewInt(200_000), TargetAprBps: 1000, TotalShares: big.NewInt(200_000)},
		TrancheEquity:    {DepositValue: big.NewInt(100_000), TargetAprBps: 2000, TotalShares: big.NewInt(100_000)},
	}
}

const fullYearBps = 10_000

func TestDistributeYieldFullYear(t *testing.T) {
	amounts, err := DistributeYield(big.NewInt(50_000), referenceStates(), fullYearBps)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if amounts[TrancheSenior].Cmp(big.NewInt(35_000)) != 0 {
		t.Fatalf("unexpected senior amount: %s", amounts[TrancheSenior])
	}
	if amounts[TrancheMezzanine].Cmp(big.NewInt(15_000)) != 0 {
		t.Fatalf("unexpected mezzanine amount: %s", amounts[TrancheMezzanine])
	}
	if amounts[TrancheEquity].Sign() != 0 {
		t.Fatalf("expected zero equity residual, got %s", amounts[TrancheEquity])
	}
}

func TestDistributeYieldShortfallStopsAtSenior(t *testing.T) {
	amounts, err := DistributeYield(big.NewInt(5_000), referenceStates(), fullYearBps)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if amounts[TrancheSenior].Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected senior amount: %s", amounts[TrancheSenior])
	}
	if amounts[TrancheMezzanine].Sign() != 0 || amounts[TrancheEquity].Sign() != 0 {
		t.Fatalf("expected junior tranches to receive nothing: %s %s",
			amounts[TrancheMezzanine], amounts[TrancheEquity])
	}
}

func TestDistributeYieldSurplusFlowsToEquity(t *testing.T) {
	amounts, err := DistributeYield(big.NewInt(80_000), referenceStates(), fullYearBps)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if amounts[TrancheSenior].Cmp(big.NewInt(35_000)) != 0 {
		t.Fatalf("unexpected senior amount: %s", amounts[TrancheSenior])
	}
	if amounts[TrancheMezzanine].Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("unexpected mezzanine amount: %s", amounts[TrancheMezzanine])
	}
	if amounts[TrancheEquity].Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("unexpected equity residual: %s", amounts[TrancheEquity])
	}
}

func TestDistributeYieldSumsExactly(t *testing.T) {
	yields := []int64{0, 1, 4_999, 5_000, 35_000, 49_999, 50_000, 123_457, 1_000_000}
	periods := []uint64{1, 2_500, fullYearBps, 20_000}
	for _, y := range yields {
		for _, p := range periods {
			amounts, err := DistributeYield(big.NewInt(y), referenceStates(), p)
			if err != nil {
				t.Fatalf("distribute(%d,%d): %v", y, p, err)
			}
			total := new(big.Int)
			for i := range amounts {
				if amounts[i].Sign() < 0 {
					t.Fatalf("negative amount for tranche %d at yield %d", i, y)
				}
				total.Add(total, amounts[i])
			}
			if total.Cmp(big.NewInt(y)) != 0 {
				t.Fatalf("sum mismatch at yield %d period %d: got %s", y, p, total)
			}
		}
	}
}

func TestDistributeYieldSkipsEmptyTranches(t *testing.T) {
	states := referenceStates()
	states[TrancheSenior].TotalShares = big.NewInt(0)
	amounts, err := DistributeYield(big.NewInt(50_000), states, fullYearBps)
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if amounts[TrancheSenior].Sign() != 0 {
		t.Fatalf("empty senior tranche owed a coupon: %s", amounts[TrancheSenior])
	}
	if amounts[TrancheMezzanine].Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("unexpected mezzanine amount: %s", amounts[TrancheMezzanine])
	}
	if amounts[TrancheEquity].Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("unexpected equity residual: %s", amounts[TrancheEquity])
	}
}

func TestAllocateLossReversePriority(t *testing.T) {
	values := [NumTranches]*big.Int{
		TrancheSenior:    big.NewInt(700_000),
		TrancheMezzanine: big.NewInt(200_000),
		TrancheEquity:    big.NewInt(100_000),
	}
	losses, err := AllocateLoss(big.NewInt(250_000), values)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if losses[TrancheEquity].Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("equity should absorb first: %s", losses[TrancheEquity])
	}
	if losses[TrancheMezzanine].Cmp(big.NewInt(150_000)) != 0 {
		t.Fatalf("unexpected mezzanine loss: %s", losses[TrancheMezzanine])
	}
	if losses[TrancheSenior].Sign() != 0 {
		t.Fatalf("senior should be untouched: %s", losses[TrancheSenior])
	}
}

func TestAllocateLossBoundedByValues(t *testing.T) {
	values := [NumTranches]*big.Int{
		TrancheSenior:    big.NewInt(700_000),
		TrancheMezzanine: big.NewInt(200_000),
		TrancheEquity:    big.NewInt(100_000),
	}
	losses, err := AllocateLoss(big.NewInt(2_000_000), values)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	total := new(big.Int)
	for i := range losses {
		if losses[i].Cmp(values[i]) > 0 {
			t.Fatalf("tranche %d absorbed more than its value: %s > %s", i, losses[i], values[i])
		}
		total.Add(total, losses[i])
	}
	if total.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected absorption capped at total value, got %s", total)
	}
}

func TestYieldPerShareDeltaZeroShares(t *testing.T) {
	delta, err := YieldPerShareDelta(big.NewInt(1_000), big.NewInt(0))
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if delta.Sign() != 0 {
		t.Fatalf("expected zero delta with no shares, got %s", delta)
	}
}

func TestOwedYieldCheckpointAhead(t *testing.T) {
	owed, err := OwedYield(big.NewInt(1_000), big.NewInt(5), big.NewInt(5))
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	if owed.Sign() != 0 {
		t.Fatalf("expected zero when checkpoint equals accumulator, got %s", owed)
	}
	owed, err = OwedYield(big.NewInt(1_000), big.NewInt(4), big.NewInt(5))
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	if owed.Sign() != 0 {
		t.Fatalf("expected zero when checkpoint is ahead, got %s", owed)
	}
}

func TestOwedYieldMatchesDelta(t *testing.T) {
	accumulator, err := DivWad(big.NewInt(35_000), big.NewInt(700_000))
	if err != nil {
		t.Fatalf("divwad: %v", err)
	}
	owed, err := OwedYield(big.NewInt(700_000), accumulator, big.NewInt(0))
	if err != nil {
		t.Fatalf("owed: %v", err)
	}
	if owed.Cmp(big.NewInt(35_000)) != 0 {
		t.Fatalf("unexpected owed yield: %s", owed)
	}
}
