package feepolicy

import (
	"math/big"
	"testing"
	"time"

	"github.com/tgcapital/signalvault/internal/domain"
)

var (
	t0      = time.Unix(1_800_000_000, 0)
	oneE18t = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func state(assets, shares int64, hwm *big.Int, elapsed time.Duration) domain.FeeState {
	return domain.FeeState{
		TotalAssets:   big.NewInt(assets),
		TotalShares:   big.NewInt(shares),
		HighWaterMark: hwm,
		LastAccrual:   t0,
		Now:           t0.Add(elapsed),
	}
}

func TestEmptyVaultAccruesNothing(t *testing.T) {
	p := Default()
	acc := p.Accrue(state(0, 0, nil, 365*24*time.Hour))
	if acc.FeeShares.Sign() != 0 {
		t.Errorf("fee shares = %s, want 0", acc.FeeShares)
	}
}

func TestManagementFeeProRataOverYear(t *testing.T) {
	p := &Policy{ManagementBps: 100}
	// 1% of 1,000,000 over one year = 10,000 assets. With price at par,
	// that mints 10000 * 1000000 / 990000 shares.
	acc := p.Accrue(state(1_000_000, 1_000_000, nil, 365*24*time.Hour))
	want := big.NewInt(10_101) // floor(10000 * 1000000 / 990000)
	if acc.FeeShares.Cmp(want) != 0 {
		t.Errorf("fee shares = %s, want %s", acc.FeeShares, want)
	}
}

func TestManagementFeeZeroElapsed(t *testing.T) {
	p := &Policy{ManagementBps: 100}
	acc := p.Accrue(state(1_000_000, 1_000_000, nil, 0))
	if acc.FeeShares.Sign() != 0 {
		t.Errorf("fee shares = %s, want 0", acc.FeeShares)
	}
}

func TestPerformanceFeeOnlyAboveHighWaterMark(t *testing.T) {
	p := &Policy{PerformanceBps: 1500}

	// Price at par, mark at par: nothing.
	acc := p.Accrue(state(1_000_000, 1_000_000, new(big.Int).Set(oneE18t), time.Hour))
	if acc.FeeShares.Sign() != 0 {
		t.Errorf("at mark: fee shares = %s, want 0", acc.FeeShares)
	}

	// Price 1.2, mark 1.0: gain of 200,000 assets, fee 15% = 30,000.
	acc = p.Accrue(state(1_200_000, 1_000_000, new(big.Int).Set(oneE18t), time.Hour))
	want := big.NewInt(25_641) // floor(30000 * 1000000 / 1170000)
	if acc.FeeShares.Cmp(want) != 0 {
		t.Errorf("above mark: fee shares = %s, want %s", acc.FeeShares, want)
	}
	// Mark ratchets up to 1.2.
	wantHwm := new(big.Int).Mul(big.NewInt(12), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if acc.HighWaterMark.Cmp(wantHwm) != 0 {
		t.Errorf("hwm = %s, want %s", acc.HighWaterMark, wantHwm)
	}
}

func TestDrawdownDoesNotLowerMark(t *testing.T) {
	p := Default()
	mark := new(big.Int).Mul(big.NewInt(2), oneE18t)

	acc := p.Accrue(state(1_000_000, 1_000_000, mark, 0))
	if acc.HighWaterMark.Cmp(mark) != 0 {
		t.Errorf("hwm = %s, want unchanged %s", acc.HighWaterMark, mark)
	}
}

func TestZeroPolicyChargesNothing(t *testing.T) {
	p := &Policy{}
	acc := p.Accrue(state(1_000_000, 500_000, nil, 365*24*time.Hour))
	if acc.FeeShares.Sign() != 0 {
		t.Errorf("fee shares = %s, want 0", acc.FeeShares)
	}
}
