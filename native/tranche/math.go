package tranche

import (
	"errors"
	"math/big"
)

var (
	// ErrDivisionByZero is returned when a fixed-point division has a zero
	// denominator.
	ErrDivisionByZero = errors.New("tranche math: division by zero")
	// ErrNegativeValue is returned when a fixed-point helper receives a
	// negative operand. All ledger quantities are non-negative.
	ErrNegativeValue = errors.New("tranche math: negative value")
)

var (
	basisPoints = big.NewInt(10_000)
	wad         = mustBigInt("1000000000000000000") // 1e18 fixed-point scale
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MulWad multiplies two WAD-scaled values, flooring the result back to WAD
// scale: a*b/1e18.
func MulWad(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad), nil
}

// DivWad divides a by b at WAD scale: a*1e18/b.
func DivWad(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(a, wad)
	return numerator.Quo(numerator, b), nil
}

// BpsToWad converts a basis-point value to its WAD representation.
func BpsToWad(bps uint64) *big.Int {
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(bps), wad)
	return scaled.Quo(scaled, basisPoints)
}

// PercentOf returns amount*bps/10000, flooring the result.
func PercentOf(amount *big.Int, bps uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints), nil
}

// SaturatingSub returns max(a-b, 0).
func SaturatingSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
