package vault

import (
	"math/big"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestMulDivFloorRoundsDown(t *testing.T) {
	got := MulDivFloor(bi(10), bi(3), bi(4))
	if got.Cmp(bi(7)) != 0 {
		t.Errorf("10*3/4 = %s, want 7", got)
	}
}

func TestBpsOf(t *testing.T) {
	cases := []struct {
		amount int64
		bps    uint32
		want   int64
	}{
		{1_000_000, 1000, 100_000},
		{1_000_000, 10000, 1_000_000},
		{999, 1, 0}, // rounds to zero
		{12345, 2500, 3086},
	}
	for _, c := range cases {
		if got := BpsOf(bi(c.amount), c.bps); got.Cmp(bi(c.want)) != 0 {
			t.Errorf("BpsOf(%d, %d) = %s, want %d", c.amount, c.bps, got, c.want)
		}
	}
}

func TestSharesForDepositFirstDepositIsPar(t *testing.T) {
	got := SharesForDeposit(bi(1_000_000), bi(0), bi(0))
	if got.Cmp(bi(1_000_000)) != 0 {
		t.Errorf("first deposit shares = %s, want 1000000", got)
	}
}

func TestSharesForDepositProRata(t *testing.T) {
	// Vault worth 2000 with 1000 shares: 500 assets buy 250 shares.
	got := SharesForDeposit(bi(500), bi(2000), bi(1000))
	if got.Cmp(bi(250)) != 0 {
		t.Errorf("shares = %s, want 250", got)
	}
}

func TestAssetsForSharesRoundTripNeverGains(t *testing.T) {
	totalAssets, totalShares := bi(3333), bi(1000)
	deposit := bi(100)

	shares := SharesForDeposit(deposit, totalAssets, totalShares)
	back := AssetsForShares(shares, new(big.Int).Add(totalAssets, deposit), new(big.Int).Add(totalShares, shares))
	if back.Cmp(deposit) > 0 {
		t.Errorf("round trip returned %s for deposit %s", back, deposit)
	}
}

func TestSharePrice(t *testing.T) {
	one := new(big.Int).Exp(bi(10), bi(18), nil)

	if got := SharePrice(bi(0), bi(0)); got.Cmp(one) != 0 {
		t.Errorf("empty vault price = %s, want 1e18", got)
	}
	// 1500 assets over 1000 shares: price 1.5e18.
	want := new(big.Int).Mul(bi(15), new(big.Int).Exp(bi(10), bi(17), nil))
	if got := SharePrice(bi(1500), bi(1000)); got.Cmp(want) != 0 {
		t.Errorf("price = %s, want %s", got, want)
	}
}
