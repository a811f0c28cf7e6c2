// internal/referral/fee.go
package referral

import (
	"github.com/gagliardetto/solana-go"

	"github.com/okhunov/solpilot/internal/swap"
)

// Tier is a user's referral standing; higher tiers pay a lower protocol fee.
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
)

// fee schedule in basis points of the pre-slippage notional
var tierFeeBps = map[Tier]int{
	TierNone:   100,
	TierBronze: 90,
	TierSilver: 75,
	TierGold:   50,
}

// FeeForTier builds the FeeSpec applied to a user's swaps.
func FeeForTier(tier Tier, feeAccount solana.PublicKey) swap.FeeSpec {
	bps, ok := tierFeeBps[tier]
	if !ok {
		bps = tierFeeBps[TierNone]
	}
	return swap.FeeSpec{PercentBps: bps, FeeAccount: feeAccount}
}
