// Package router provides swap-routing backends for the execution
// coordinator. StaticRouter fills orders from its own inventory at
// operator-configured prices; it backs dev mode and tests.
package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

type pair struct {
	in  common.Address
	out common.Address
}

// StaticRouter is a domain.Router that pays a fixed, configured output
// per asset pair out of token inventory held at its own address.
type StaticRouter struct {
	mu sync.Mutex

	addr    common.Address
	tokens  map[common.Address]domain.Token
	results map[pair]*big.Int
}

var _ domain.Router = (*StaticRouter)(nil)

func NewStatic(addr common.Address) *StaticRouter {
	return &StaticRouter{
		addr:    addr,
		tokens:  make(map[common.Address]domain.Token),
		results: make(map[pair]*big.Int),
	}
}

func (r *StaticRouter) Address() common.Address { return r.addr }

// RegisterToken binds an asset address to its token handle so the router
// can deliver output legs.
func (r *StaticRouter) RegisterToken(asset common.Address, tok domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[asset] = tok
}

// SetSwapResult fixes the output amount paid for any swap of the given
// pair, regardless of input size.
func (r *StaticRouter) SetSwapResult(assetIn, assetOut common.Address, amountOut *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[pair{assetIn, assetOut}] = new(big.Int).Set(amountOut)
}

func (r *StaticRouter) Quote(_ context.Context, assetIn, assetOut common.Address, _ *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.results[pair{assetIn, assetOut}]
	if !ok {
		return nil, fmt.Errorf("router: no route %s -> %s: %w", assetIn.Hex(), assetOut.Hex(), domain.ErrInsufficientLiquidity)
	}
	return new(big.Int).Set(out), nil
}

// ExecuteSwap pays the configured output to recipient. The caller has
// already pushed amountIn of assetIn to the router's address; the input
// leg simply stays in inventory.
func (r *StaticRouter) ExecuteSwap(ctx context.Context, assetIn, assetOut common.Address, amountIn, minOut *big.Int, recipient common.Address, _ []byte) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("router: swap: %w", domain.ErrZeroAmount)
	}

	r.mu.Lock()
	out, ok := r.results[pair{assetIn, assetOut}]
	tok := r.tokens[assetOut]
	r.mu.Unlock()

	if !ok || tok == nil {
		return nil, fmt.Errorf("router: no route %s -> %s: %w", assetIn.Hex(), assetOut.Hex(), domain.ErrInsufficientLiquidity)
	}
	amountOut := new(big.Int).Set(out)
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("router: out %s below floor %s: %w", amountOut, minOut, domain.ErrSlippageExceeded)
	}
	if err := tok.Transfer(ctx, r.addr, recipient, amountOut); err != nil {
		return nil, fmt.Errorf("router: deliver output: %w", err)
	}
	return amountOut, nil
}
