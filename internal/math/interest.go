package math

import (
	"math/big"

	"VaultLedger/internal/protocol"
)

// Price exponents outside this range would require absurd powers of ten;
// readings like that are malformed, not money.
const maxPriceExponent = 18

// ComputeInterest values the collateral in the interest asset at the oracle
// price and applies the annualized rate, the lock duration, and the commission
// discount:
//
//	interest = amount * price * 10^exponent
//	         * baseRate/RateDenominator
//	         * lockPeriod/SecondsPerYear
//	         * (RateDenominator - commissionRate)/RateDenominator
//
// The whole chain runs in a wide accumulator; truncation to the integer asset
// unit happens once, at the end. A negative exponent divides.
// Inputs are validated upstream (non-negative, commission <= RateDenominator).
func ComputeInterest(amount, price int64, exponent int32, baseRate, commissionRate, lockPeriod int64) (int64, error) {
	if exponent > maxPriceExponent || exponent < -maxPriceExponent {
		return 0, protocol.ErrArithmeticOverflow("price scaling")
	}

	num := MultiplyInt128(amount, price)
	defer putInt128(num)
	num.Mul(num, big.NewInt(baseRate))
	num.Mul(num, big.NewInt(lockPeriod))
	num.Mul(num, big.NewInt(protocol.RateDenominator-commissionRate))

	den := getInt128()
	defer putInt128(den)
	den.SetInt64(protocol.RateDenominator * protocol.RateDenominator)
	den.Mul(den, big.NewInt(protocol.SecondsPerYear))

	if exponent > 0 {
		pow := getInt128()
		pow.Exp(big.NewInt(10), big.NewInt(int64(exponent)), nil)
		num.Mul(num, pow)
		putInt128(pow)
	} else if exponent < 0 {
		pow := getInt128()
		pow.Exp(big.NewInt(10), big.NewInt(int64(-exponent)), nil)
		den.Mul(den, pow)
		putInt128(pow)
	}

	return divBig(num, den, "interest calculation")
}

// ComputeClawback pro-rates already-credited interest linearly over the lock:
//
//	clawback = interestCredited * elapsed / totalLockDuration   (floor)
//
// Elapsed clamps to [0, totalLockDuration], so the clawback never exceeds the
// credited amount and reaches exactly the full credit at maturity.
func ComputeClawback(interestCredited, elapsed, totalLockDuration int64) (int64, error) {
	if totalLockDuration <= 0 {
		return 0, protocol.ErrDivisionByZero("clawback proration")
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > totalLockDuration {
		elapsed = totalLockDuration
	}

	num := MultiplyInt128(interestCredited, elapsed)
	defer putInt128(num)

	return DivideInt128(num, totalLockDuration, "clawback proration")
}
