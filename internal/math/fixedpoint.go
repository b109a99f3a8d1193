package math

import (
	"math/big"
	"sync"

	"VaultLedger/internal/protocol"
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b in a wide accumulator. The caller owns the
// returned value and must release it with putInt128 (same package only).
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with floor rounding.
// Truncation to the integer asset unit happens only here, at the final step.
// A zero denominator and a quotient outside int64 are caller-visible errors,
// never silently saturated.
func DivideInt128(numerator *big.Int, denominator int64, op string) (int64, error) {
	if denominator == 0 {
		return 0, protocol.ErrDivisionByZero(op)
	}

	quotient := getInt128()
	defer putInt128(quotient)

	quotient.Div(numerator, big.NewInt(denominator))

	if !quotient.IsInt64() {
		return 0, protocol.ErrArithmeticOverflow(op)
	}
	return quotient.Int64(), nil
}

// divBig is DivideInt128 for denominators that may themselves exceed int64
// (price exponent scaling folds powers of ten into the denominator).
func divBig(numerator, denominator *big.Int, op string) (int64, error) {
	if denominator.Sign() == 0 {
		return 0, protocol.ErrDivisionByZero(op)
	}

	quotient := getInt128()
	defer putInt128(quotient)

	quotient.Div(numerator, denominator)

	if !quotient.IsInt64() {
		return 0, protocol.ErrArithmeticOverflow(op)
	}
	return quotient.Int64(), nil
}
