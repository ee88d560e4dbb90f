package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// SOL converts lamports to a decimal SOL amount.
func SOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

// TokenAmount converts token base units to whole tokens.
func TokenAmount(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}

// Lamports converts a SOL amount to lamports, rounding half away from zero.
// Negative amounts yield zero.
func Lamports(sol decimal.Decimal) uint64 {
	if sol.Sign() <= 0 {
		return 0
	}
	return sol.Shift(9).Round(0).BigInt().Uint64()
}
