// Package feepolicy prices management and performance fees against a
// vault accounting snapshot. Fees are taken by minting shares to the
// collector, never by moving assets, so accrual can't break redeem math.
package feepolicy

import (
	"math/big"
	"time"

	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/vault"
)

const (
	// DefaultPerformanceBps is charged on share-price gains above the
	// high-water mark.
	DefaultPerformanceBps = 1500
	// DefaultManagementBps is charged per year on assets under management.
	DefaultManagementBps = 100
)

var (
	bpsDen  = big.NewInt(10000)
	oneE18  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	yearSec = big.NewInt(int64(365 * 24 * time.Hour / time.Second))
)

// Policy is a high-water-mark fee schedule. The zero value charges
// nothing; use Default for the standard schedule.
type Policy struct {
	PerformanceBps uint32
	ManagementBps  uint32
}

// Default returns the standard 15%/1% schedule.
func Default() *Policy {
	return &Policy{PerformanceBps: DefaultPerformanceBps, ManagementBps: DefaultManagementBps}
}

// Accrue computes the fee owed since state.LastAccrual as an amount of
// underlying, then converts it to shares minted against the remaining
// asset base. Both fee legs round down and an empty vault accrues nothing.
func (p *Policy) Accrue(state domain.FeeState) domain.FeeAccrual {
	hwm := state.HighWaterMark
	if hwm == nil || hwm.Sign() == 0 {
		hwm = new(big.Int).Set(oneE18)
	}
	out := domain.FeeAccrual{
		FeeShares:     big.NewInt(0),
		HighWaterMark: new(big.Int).Set(hwm),
	}
	if state.TotalShares == nil || state.TotalShares.Sign() == 0 || state.TotalAssets == nil || state.TotalAssets.Sign() == 0 {
		return out
	}

	feeAssets := big.NewInt(0)

	if p.ManagementBps > 0 && state.Now.After(state.LastAccrual) {
		elapsed := big.NewInt(int64(state.Now.Sub(state.LastAccrual) / time.Second))
		mgmt := new(big.Int).Mul(state.TotalAssets, big.NewInt(int64(p.ManagementBps)))
		mgmt.Mul(mgmt, elapsed)
		mgmt.Quo(mgmt, new(big.Int).Mul(bpsDen, yearSec))
		feeAssets.Add(feeAssets, mgmt)
	}

	price := vault.SharePrice(state.TotalAssets, state.TotalShares)
	if p.PerformanceBps > 0 && price.Cmp(hwm) > 0 {
		// Gain per share above the mark, monetized across all shares.
		gain := new(big.Int).Sub(price, hwm)
		gainAssets := new(big.Int).Mul(gain, state.TotalShares)
		gainAssets.Quo(gainAssets, oneE18)
		perf := new(big.Int).Mul(gainAssets, big.NewInt(int64(p.PerformanceBps)))
		perf.Quo(perf, bpsDen)
		feeAssets.Add(feeAssets, perf)
		out.HighWaterMark = price
	}

	if feeAssets.Sign() <= 0 {
		return out
	}
	// Mint s shares so that s / (totalShares + s) == feeAssets / totalAssets.
	remainder := new(big.Int).Sub(state.TotalAssets, feeAssets)
	if remainder.Sign() <= 0 {
		return out
	}
	out.FeeShares = vault.MulDivFloor(feeAssets, state.TotalShares, remainder)
	return out
}
