// internal/swap/fee.go
package swap

import "github.com/gagliardetto/solana-go"

// FeeSpec is the protocol fee applied to a swap, computed per user from
// their referral tier.
type FeeSpec struct {
	PercentBps int
	FeeAccount solana.PublicKey
}

// Amount computes the protocol fee on the pre-slippage notional. Fee revenue
// is a function of the amount the user signed for, never the executed
// amount, so it stays deterministic regardless of execution price.
func (f FeeSpec) Amount(notional uint64) uint64 {
	return notional * uint64(f.PercentBps) / 10_000
}
