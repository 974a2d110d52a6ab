package arbitrage

import "math/big"

// Bottleneck returns the smallest amount, which is all a merge can
// redeem when every outcome must be burned 1:1. Nil entries are skipped;
// it returns nil when nothing is left.
func Bottleneck(amounts []*big.Int) *big.Int {
	var low *big.Int
	for _, a := range amounts {
		if a == nil {
			continue
		}
		if low == nil || a.Cmp(low) < 0 {
			low = a
		}
	}
	if low == nil {
		return nil
	}
	return new(big.Int).Set(low)
}
