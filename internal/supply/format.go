package supply

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a raw token amount as a decimal string with exactly
// decimals fractional digits. The fractional part is always present: with zero
// decimals 42 renders as "42.0".
// Negative amounts keep their sign: -5 with 6 decimals is "-0.000005".
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = new(big.Int)
	}
	if decimals == 0 {
		return amount.String() + ".0"
	}
	return toDecimal(amount, decimals).StringFixed(int32(decimals))
}

// ApproxTokens converts a raw amount to a float of whole tokens. Lossy; metrics only.
func ApproxTokens(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	return toDecimal(amount, decimals).InexactFloat64()
}

func toDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
