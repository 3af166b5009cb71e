package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	wad         = big.NewInt(1_000_000_000_000_000_000) // 1e18 working precision
	stableScale = big.NewInt(1_000_000_000_000)         // 6-decimal stable unit -> wad
)

const (
	stableDecimals = 6
	maxDecimals    = 18

	secondsPerYear = 365 * 24 * 60 * 60
	secondsPerDay  = 24 * 60 * 60

	// maxPriceAge bounds how stale an oracle quote may be before price
	// dependent operations refuse to execute.
	maxPriceAge = 3600

	// penaltyDelay is the fixed buffer after a loan's due date before the
	// overdue penalty starts accruing. Distinct from the configurable grace
	// period that gates seizure.
	penaltyDelay = 3 * secondsPerDay
)

// decimalsFactor returns 10^(18-decimals), the multiplier that lifts a native
// token amount into the 18-decimal working precision. Assets with more than 18
// decimals are unsupported and rejected at registration time.
func decimalsFactor(decimals uint8) *big.Int {
	exp := maxDecimals - int(decimals)
	if exp < 0 {
		exp = 0
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// toWad lifts a native token amount into 18-decimal precision.
func toWad(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(amount, decimalsFactor(decimals))
}

// fromWad truncates an 18-decimal amount back to native token precision.
// Truncation is deliberate: conversions must never round up and manufacture
// value out of thin air.
func fromWad(amount *big.Int, decimals uint8) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(amount, decimalsFactor(decimals))
}

// stableToWad lifts a 6-decimal stable unit amount into 18-decimal precision.
func stableToWad(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(amount, stableScale)
}

// stableFromWad truncates an 18-decimal amount down to the stable unit's
// 6-decimal precision.
func stableFromWad(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(amount, stableScale)
}

// mulDiv computes a*b/den with flooring division.
func mulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// bpsToWad converts a basis-point ratio into 18-decimal precision, e.g.
// 13000 bps -> 1.30e18.
func bpsToWad(bps uint64) *big.Int {
	out := new(big.Int).SetUint64(bps)
	out.Mul(out, wad)
	return out.Quo(out, basisPoints)
}

// ceilDaysBetween returns the number of whole days spanned by [from, to),
// rounding any partial day up.
func ceilDaysBetween(from, to int64) int64 {
	if to <= from {
		return 0
	}
	elapsed := to - from
	return (elapsed + secondsPerDay - 1) / secondsPerDay
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
