package vault

import "math/big"

// All share and fee arithmetic rounds down. The vault keeps any dust,
// so rounding can never be farmed by splitting an operation.

var bpsDenominator = big.NewInt(10000)

// MulDivFloor returns floor(a * b / d). d must be non-zero.
func MulDivFloor(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}

// BpsOf returns floor(amount * bps / 10000).
func BpsOf(amount *big.Int, bps uint32) *big.Int {
	return MulDivFloor(amount, big.NewInt(int64(bps)), bpsDenominator)
}

// SharesForDeposit converts a deposit of assets into shares at the
// current exchange rate. The first deposit mints 1:1.
func SharesForDeposit(assets, totalAssets, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 || totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	return MulDivFloor(assets, totalShares, totalAssets)
}

// AssetsForShares converts shares back into underlying at the current
// exchange rate.
func AssetsForShares(shares, totalAssets, totalShares *big.Int) *big.Int {
	if totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return MulDivFloor(shares, totalAssets, totalShares)
}

// SharePrice returns the 1e18-scaled price of one share. An empty
// vault is priced at par.
func SharePrice(totalAssets, totalShares *big.Int) *big.Int {
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if totalShares.Sign() == 0 {
		return one
	}
	return MulDivFloor(totalAssets, one, totalShares)
}
