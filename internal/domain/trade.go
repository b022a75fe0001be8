package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TradeOrder is the vault-side instruction for a single controlled release of
// funds. MinOut is the effective output floor: the coordinator folds both the
// caller's absolute minimum and the slippage bound derived from the signal's
// reference price into it before handing the order to the vault.
type TradeOrder struct {
	AssetIn   common.Address
	AssetOut  common.Address
	AmountIn  *big.Int
	MinOut    *big.Int
	RouteData []byte
}

// TradeExecution is the persisted record of a completed execution.
type TradeExecution struct {
	ID         string // uuid
	SignalID   common.Hash
	AssetIn    common.Address
	AssetOut   common.Address
	AmountIn   *big.Int
	AmountOut  *big.Int
	Keeper     common.Address // identity that triggered execution
	ExecutedAt time.Time
}

// VaultStatus is a read-only snapshot of the ledger's accounting state.
type VaultStatus struct {
	Name          string
	Symbol        string
	Underlying    common.Address
	TotalAssets   *big.Int
	TotalShares   *big.Int
	LiquidBalance *big.Int // undeployed underlying, the binding redeem constraint
	DeployedValue *big.Int // counter-asset legs valued at last-known terms
	Holdings      map[common.Address]*big.Int
	Paused        bool
	FeeCheckpoint time.Time
}
