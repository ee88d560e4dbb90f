package venue

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SwapLimits are the amounts a swap instruction commits to on chain.
type SwapLimits struct {
	// Input is the exact input, or for a curve buy the maximum SOL cost.
	Input uint64
	// MinimumOutput is the least the swap will accept.
	MinimumOutput uint64
}

// EncodedLimits finds the swap instruction in ixs and decodes the amounts
// it encodes.
func EncodedLimits(ixs []solana.Instruction) (SwapLimits, error) {
	for _, ix := range ixs {
		data, err := ix.Data()
		if err != nil || len(data) < 8 {
			continue
		}
		switch {
		case bytes.Equal(data[:8], pumpBuyDiscriminator[:]):
			var a pumpBuyArgs
			if err := bin.UnmarshalBorsh(&a, data); err != nil {
				return SwapLimits{}, fmt.Errorf("venue: decode curve buy: %w", err)
			}
			return SwapLimits{Input: a.MaxSolCost, MinimumOutput: a.Amount}, nil
		case bytes.Equal(data[:8], pumpSellDiscriminator[:]):
			var a pumpSellArgs
			if err := bin.UnmarshalBorsh(&a, data); err != nil {
				return SwapLimits{}, fmt.Errorf("venue: decode curve sell: %w", err)
			}
			return SwapLimits{Input: a.Amount, MinimumOutput: a.MinSolOutput}, nil
		case bytes.Equal(data[:8], cpmmSwapBaseInputDiscriminator[:]):
			var a cpmmSwapArgs
			if err := bin.UnmarshalBorsh(&a, data); err != nil {
				return SwapLimits{}, fmt.Errorf("venue: decode pool swap: %w", err)
			}
			return SwapLimits{Input: a.AmountIn, MinimumOutput: a.MinimumAmountOut}, nil
		}
	}
	return SwapLimits{}, fmt.Errorf("venue: no swap instruction found")
}
