package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the external fungible-asset collaborator. Amounts are unsigned
// integers in the asset's smallest unit; implementations must reject
// transfers that would drive a balance negative.
type Token interface {
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// Router is the swap-routing collaborator. ExecuteSwap is invoked after the
// vault has transferred amountIn of assetIn to the router's address; the
// router must deliver its output of assetOut to recipient before returning.
// The core never inspects routeData.
type Router interface {
	Address() common.Address
	Quote(ctx context.Context, assetIn, assetOut common.Address, amountIn *big.Int) (*big.Int, error)
	ExecuteSwap(ctx context.Context, assetIn, assetOut common.Address, amountIn, minOut *big.Int, recipient common.Address, routeData []byte) (*big.Int, error)
}

// FeeState is the accounting snapshot a fee policy prices against.
type FeeState struct {
	TotalAssets *big.Int
	TotalShares *big.Int
	// HighWaterMark is the best observed share price, scaled by 1e18.
	HighWaterMark *big.Int
	LastAccrual   time.Time
	Now           time.Time
}

// FeeAccrual is the outcome of one accrual: shares to mint to the fee
// collector plus the updated high-water mark.
type FeeAccrual struct {
	FeeShares     *big.Int
	HighWaterMark *big.Int
}

// FeePolicy computes accrued fees as a pure function of elapsed time and AUM.
type FeePolicy interface {
	Accrue(state FeeState) FeeAccrual
}
