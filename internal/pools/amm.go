package pools

import (
	"math/bits"

	"github.com/runeswap/runeswap-api/internal/types"
)

// Constant-product pricing constants. The fee is a fixed 3/1000 of the
// input, retained in the pool. MinimumLiquidity is locked to the pool on
// first mint so the liquidity supply can never round back to zero.
const (
	feeNumerator     = 3
	feeDenominator   = 1000
	MinimumLiquidity = 1000
)

// checkedMul multiplies failing closed on uint64 overflow.
func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, types.ErrOverflow
	}
	return lo, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, types.ErrOverflow
	}
	return sum, nil
}

// poolProduct computes reserve0*reserve1, additionally failing when the
// product would not round trip through the store.
func poolProduct(reserve0, reserve1 uint64) (uint64, error) {
	k, err := checkedMul(reserve0, reserve1)
	if err != nil {
		return 0, err
	}
	if k > types.MaxAmount {
		return 0, types.ErrOverflow
	}
	return k, nil
}

// mulDiv computes floor(a*b/den) with a 128-bit intermediate, failing
// closed when the quotient itself overflows uint64.
func mulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, types.ErrParams
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, types.ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, den)
	return quo, nil
}

// isqrt returns floor(sqrt(x)).
func isqrt(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	r := uint64(1) << ((bits.Len64(x) + 1) / 2)
	for {
		next := (r + x/r) / 2
		if next >= r {
			return r
		}
		r = next
	}
}

// mulU128 returns a*b as a (hi, lo) pair for 128-bit comparisons.
func mulU128(a, b uint64) (uint64, uint64) {
	return bits.Mul64(a, b)
}

func u128Less(ahi, alo, bhi, blo uint64) bool {
	if ahi != bhi {
		return ahi < bhi
	}
	return alo < blo
}

// quote returns the amount of the other asset that preserves the current
// reserve ratio for a given input amount: floor(amount*reserveOther/reserveSelf).
func quote(amount, reserveSelf, reserveOther uint64) (uint64, error) {
	if amount == 0 {
		return 0, types.ErrParams
	}
	return mulDiv(amount, reserveOther, reserveSelf)
}

// liquidityToMint computes the units minted for a deposit of (amount0,
// amount1). For an empty pool the first MinimumLiquidity units are locked;
// for a funded pool the mint is proportional to the smaller reserve share.
func liquidityToMint(amount0, amount1, reserve0, reserve1, totalLiquidity uint64) (uint64, error) {
	if totalLiquidity == 0 {
		product, err := checkedMul(amount0, amount1)
		if err != nil {
			return 0, err
		}
		root := isqrt(product)
		if root <= MinimumLiquidity {
			return 0, types.ErrInsufficientLiquidity
		}
		return root - MinimumLiquidity, nil
	}

	share0, err := mulDiv(amount0, totalLiquidity, reserve0)
	if err != nil {
		return 0, err
	}
	share1, err := mulDiv(amount1, totalLiquidity, reserve1)
	if err != nil {
		return 0, err
	}
	minted := share0
	if share1 < minted {
		minted = share1
	}
	if minted == 0 {
		return 0, types.ErrInsufficientLiquidity
	}
	return minted, nil
}

// redeemAmounts computes the pro-rata redemption for burning liquidity
// units. Floor rounding favors the pool, never the withdrawing party.
func redeemAmounts(liquidity, reserve0, reserve1, totalLiquidity uint64) (uint64, uint64, error) {
	amount0, err := mulDiv(liquidity, reserve0, totalLiquidity)
	if err != nil {
		return 0, 0, err
	}
	amount1, err := mulDiv(liquidity, reserve1, totalLiquidity)
	if err != nil {
		return 0, 0, err
	}
	if amount0 == 0 && amount1 == 0 {
		return 0, 0, types.ErrInsufficientLiquidity
	}
	return amount0, amount1, nil
}

// swapOutput prices an exact-input swap against the constant-product
// invariant with the fee applied to the input first:
//
//	out = reserveOut * in*(1000-3) / (reserveIn*1000 + in*(1000-3))
//
// Floor rounding favors the pool. The output must leave the out-side
// reserve strictly positive.
func swapOutput(amountIn, reserveIn, reserveOut uint64) (uint64, error) {
	if amountIn == 0 {
		return 0, types.ErrParams
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, types.ErrInsufficientReserves
	}

	effectiveIn, err := checkedMul(amountIn, feeDenominator-feeNumerator)
	if err != nil {
		return 0, err
	}
	scaledReserveIn, err := checkedMul(reserveIn, feeDenominator)
	if err != nil {
		return 0, err
	}
	denominator, err := checkedAdd(scaledReserveIn, effectiveIn)
	if err != nil {
		return 0, err
	}

	amountOut, err := mulDiv(reserveOut, effectiveIn, denominator)
	if err != nil {
		return 0, err
	}
	if amountOut >= reserveOut {
		return 0, types.ErrInsufficientReserves
	}
	return amountOut, nil
}

// addLiquidityAmounts resolves the deposit amounts actually used. For an
// empty pool both desired amounts are used as-is; otherwise the second
// amount is quoted off the first to preserve the reserve ratio, and both
// minimum bounds are enforced.
func addLiquidityAmounts(pool *Pool, amount0Desired, amount1Desired, amount0Min, amount1Min uint64) (uint64, uint64, error) {
	if pool.TotalLiquidity == 0 {
		return amount0Desired, amount1Desired, nil
	}

	amount1Optimal, err := quote(amount0Desired, pool.Reserve0, pool.Reserve1)
	if err != nil {
		return 0, 0, err
	}
	if amount1Optimal <= amount1Desired {
		if amount1Optimal < amount1Min {
			return 0, 0, types.ErrSlippageExceeded
		}
		return amount0Desired, amount1Optimal, nil
	}

	amount0Optimal, err := quote(amount1Desired, pool.Reserve1, pool.Reserve0)
	if err != nil {
		return 0, 0, err
	}
	if amount0Optimal > amount0Desired {
		return 0, 0, types.ErrSlippageExceeded
	}
	if amount0Optimal < amount0Min {
		return 0, 0, types.ErrSlippageExceeded
	}
	return amount0Optimal, amount1Desired, nil
}
