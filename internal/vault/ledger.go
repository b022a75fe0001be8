// Package vault implements the share-accounted ledger: deposits and
// redemptions against a single underlying asset, controlled release of
// funds for trades, and fee accrual by share dilution.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

// Vault tracks ownership with internal shares. Share price is
// totalAssets/totalShares; totalAssets is liquid underlying plus the
// carried cost of deployed counter-asset legs.
type Vault struct {
	mu sync.RWMutex

	name       string
	symbol     string
	addr       common.Address
	underlying common.Address
	token      domain.Token

	registry  Registry
	router    domain.Router
	feePolicy domain.FeePolicy
	collector common.Address

	totalShares *big.Int
	shares      map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int

	liquid   *big.Int
	deployed *big.Int
	holdings map[common.Address]*big.Int

	hwm         *big.Int
	lastAccrual time.Time

	paused bool
	busy   bool

	audit  domain.AuditStore
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time
}

// Registry is the capability checker the vault consults. Satisfied by
// *registry.Registry; declared here so the package has no import cycle
// risk and tests can stub it.
type Registry interface {
	Has(identity common.Address, cap domain.Capability) bool
}

// Config carries the construction parameters for a Vault.
type Config struct {
	Name       string
	Symbol     string
	Address    common.Address
	Underlying common.Address
	Token      domain.Token
	Registry   Registry
	Router     domain.Router
	FeePolicy  domain.FeePolicy
	Collector  common.Address
	Audit      domain.AuditStore
	Sink       domain.EventSink
}

func New(cfg Config, logger *slog.Logger) *Vault {
	v := &Vault{
		name:        cfg.Name,
		symbol:      cfg.Symbol,
		addr:        cfg.Address,
		underlying:  cfg.Underlying,
		token:       cfg.Token,
		registry:    cfg.Registry,
		router:      cfg.Router,
		feePolicy:   cfg.FeePolicy,
		collector:   cfg.Collector,
		totalShares: big.NewInt(0),
		shares:      make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		liquid:      big.NewInt(0),
		deployed:    big.NewInt(0),
		holdings:    make(map[common.Address]*big.Int),
		hwm:         new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		audit:       cfg.Audit,
		sink:        cfg.Sink,
		logger:      logger.With(slog.String("component", "vault")),
		now:         time.Now,
	}
	v.lastAccrual = v.now().UTC()
	return v
}

func (v *Vault) Address() common.Address    { return v.addr }
func (v *Vault) Underlying() common.Address { return v.underlying }

// totalAssetsLocked requires at least a read lock.
func (v *Vault) totalAssetsLocked() *big.Int {
	return new(big.Int).Add(v.liquid, v.deployed)
}

// Deposit pulls assets of underlying from depositor (who must have
// approved the vault) and mints shares at the current exchange rate.
func (v *Vault) Deposit(ctx context.Context, depositor common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("vault: deposit: %w", domain.ErrZeroAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return nil, fmt.Errorf("vault: deposit: %w", domain.ErrPaused)
	}
	if v.busy {
		return nil, fmt.Errorf("vault: deposit: %w", domain.ErrReentrant)
	}
	v.accrueLocked(ctx)

	minted := SharesForDeposit(assets, v.totalAssetsLocked(), v.totalShares)
	if minted.Sign() <= 0 {
		return nil, fmt.Errorf("vault: deposit too small for one share: %w", domain.ErrZeroAmount)
	}

	if err := v.token.TransferFrom(ctx, v.addr, depositor, v.addr, assets); err != nil {
		return nil, fmt.Errorf("vault: pull deposit: %w", err)
	}

	v.liquid.Add(v.liquid, assets)
	v.mint(depositor, minted)

	v.logger.Info("deposit",
		slog.String("depositor", depositor.Hex()),
		slog.String("assets", assets.String()),
		slog.String("shares", minted.String()),
	)
	v.record(ctx, domain.EventDeposited, map[string]any{
		"depositor": depositor.Hex(),
		"assets":    assets.String(),
		"shares":    minted.String(),
	})
	return minted, nil
}

// Redeem burns shareAmount of owner's shares and pays out the pro-rata
// underlying. A caller other than the owner spends share allowance.
// Redemptions draw on liquid balance only; deployed value must be
// unwound by trades first.
func (v *Vault) Redeem(ctx context.Context, caller, owner common.Address, shareAmount *big.Int) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, fmt.Errorf("vault: redeem: %w", domain.ErrZeroAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return nil, fmt.Errorf("vault: redeem: %w", domain.ErrPaused)
	}
	if v.busy {
		return nil, fmt.Errorf("vault: redeem: %w", domain.ErrReentrant)
	}
	v.accrueLocked(ctx)

	if caller != owner {
		allowed := v.shareAllowanceLocked(owner, caller)
		if allowed.Cmp(shareAmount) < 0 {
			return nil, fmt.Errorf("vault: redeem %s for %s: %w", caller.Hex(), owner.Hex(), domain.ErrInsufficientAllowance)
		}
	}
	bal, ok := v.shares[owner]
	if !ok || bal.Cmp(shareAmount) < 0 {
		return nil, fmt.Errorf("vault: redeem: %w", domain.ErrInsufficientShares)
	}

	assets := AssetsForShares(shareAmount, v.totalAssetsLocked(), v.totalShares)
	if assets.Cmp(v.liquid) > 0 {
		return nil, fmt.Errorf("vault: redeem %s with %s liquid: %w", assets, v.liquid, domain.ErrInsufficientLiquidity)
	}

	if assets.Sign() > 0 {
		if err := v.token.Transfer(ctx, v.addr, owner, assets); err != nil {
			return nil, fmt.Errorf("vault: pay redemption: %w", err)
		}
	}

	if caller != owner {
		a := v.allowances[owner][caller]
		a.Sub(a, shareAmount)
	}
	bal.Sub(bal, shareAmount)
	if bal.Sign() == 0 {
		delete(v.shares, owner)
	}
	v.totalShares.Sub(v.totalShares, shareAmount)
	v.liquid.Sub(v.liquid, assets)

	v.logger.Info("redeem",
		slog.String("owner", owner.Hex()),
		slog.String("shares", shareAmount.String()),
		slog.String("assets", assets.String()),
	)
	v.record(ctx, domain.EventRedeemed, map[string]any{
		"owner":  owner.Hex(),
		"caller": caller.Hex(),
		"shares": shareAmount.String(),
		"assets": assets.String(),
	})
	return assets, nil
}

// ReleaseForTrade pushes order.AmountIn to the router, executes the swap,
// and commits the accounting only if the delivered output clears
// order.MinOut. A failed or short swap leaves the ledger untouched and
// pulls the input leg back from the router.
func (v *Vault) ReleaseForTrade(ctx context.Context, caller common.Address, order domain.TradeOrder) (*big.Int, error) {
	if v.registry != nil && !v.registry.Has(caller, domain.CapExecute) {
		return nil, fmt.Errorf("vault: release by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if order.AmountIn == nil || order.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("vault: release: %w", domain.ErrZeroAmount)
	}
	if v.router == nil {
		return nil, fmt.Errorf("vault: release: no router configured: %w", domain.ErrInsufficientLiquidity)
	}

	v.mu.Lock()
	if v.paused {
		v.mu.Unlock()
		return nil, fmt.Errorf("vault: release: %w", domain.ErrPaused)
	}
	if v.busy {
		v.mu.Unlock()
		return nil, fmt.Errorf("vault: release: %w", domain.ErrReentrant)
	}

	sellSide := order.AssetIn != v.underlying
	if sellSide {
		held := v.holdings[order.AssetIn]
		if held == nil || held.Cmp(order.AmountIn) < 0 {
			v.mu.Unlock()
			return nil, fmt.Errorf("vault: release %s of %s: %w", order.AmountIn, order.AssetIn.Hex(), domain.ErrInsufficientLiquidity)
		}
	} else if v.liquid.Cmp(order.AmountIn) < 0 {
		v.mu.Unlock()
		return nil, fmt.Errorf("vault: release %s with %s liquid: %w", order.AmountIn, v.liquid, domain.ErrInsufficientLiquidity)
	}

	routerAddr := v.router.Address()
	inToken := v.token
	if sellSide {
		inToken = nil // counter-asset custody is tracked by holdings, moved by the router adapter
	}
	v.busy = true
	v.mu.Unlock()

	// Input leg moves before the swap call; the router contract requires it.
	if inToken != nil {
		if err := inToken.Transfer(ctx, v.addr, routerAddr, order.AmountIn); err != nil {
			v.clearBusy()
			return nil, fmt.Errorf("vault: push input leg: %w", err)
		}
	}

	out, err := v.router.ExecuteSwap(ctx, order.AssetIn, order.AssetOut, order.AmountIn, order.MinOut, v.addr, order.RouteData)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = false

	if err == nil && (out == nil || (order.MinOut != nil && out.Cmp(order.MinOut) < 0)) {
		err = fmt.Errorf("vault: output %s below floor %s: %w", out, order.MinOut, domain.ErrSlippageExceeded)
	}
	if err != nil {
		// Recover the input leg so the failed attempt is a no-op.
		if inToken != nil {
			if rerr := inToken.Transfer(ctx, routerAddr, v.addr, order.AmountIn); rerr != nil {
				v.logger.Error("input leg recovery failed",
					slog.String("asset", order.AssetIn.Hex()),
					slog.String("amount", order.AmountIn.String()),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return nil, err
	}

	if sellSide {
		// Release carried cost pro rata; the rest of the output is realized PnL.
		held := v.holdings[order.AssetIn]
		carried := MulDivFloor(v.deployed, order.AmountIn, held)
		v.deployed.Sub(v.deployed, carried)
		held.Sub(held, order.AmountIn)
		if held.Sign() == 0 {
			delete(v.holdings, order.AssetIn)
		}
		v.liquid.Add(v.liquid, out)
	} else {
		// Deployed legs are carried at cost, so AUM is conserved here.
		v.liquid.Sub(v.liquid, order.AmountIn)
		v.deployed.Add(v.deployed, order.AmountIn)
		h, ok := v.holdings[order.AssetOut]
		if !ok {
			h = big.NewInt(0)
			v.holdings[order.AssetOut] = h
		}
		h.Add(h, out)
	}

	v.logger.Info("trade settled",
		slog.String("asset_in", order.AssetIn.Hex()),
		slog.String("asset_out", order.AssetOut.Hex()),
		slog.String("amount_in", order.AmountIn.String()),
		slog.String("amount_out", out.String()),
	)
	v.record(ctx, domain.EventTradeExecuted, map[string]any{
		"caller":     caller.Hex(),
		"asset_in":   order.AssetIn.Hex(),
		"asset_out":  order.AssetOut.Hex(),
		"amount_in":  order.AmountIn.String(),
		"amount_out": out.String(),
	})
	return out, nil
}

func (v *Vault) clearBusy() {
	v.mu.Lock()
	v.busy = false
	v.mu.Unlock()
}

// AccrueFees runs the fee policy against the current snapshot and mints
// any owed shares to the collector. Called on a timer and before every
// deposit and redemption.
func (v *Vault) AccrueFees(ctx context.Context) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accrueLocked(ctx)
}

func (v *Vault) accrueLocked(ctx context.Context) *big.Int {
	now := v.now().UTC()
	if v.feePolicy == nil {
		v.lastAccrual = now
		return big.NewInt(0)
	}
	acc := v.feePolicy.Accrue(domain.FeeState{
		TotalAssets:   v.totalAssetsLocked(),
		TotalShares:   new(big.Int).Set(v.totalShares),
		HighWaterMark: new(big.Int).Set(v.hwm),
		LastAccrual:   v.lastAccrual,
		Now:           now,
	})
	v.lastAccrual = now
	if acc.HighWaterMark != nil {
		v.hwm = acc.HighWaterMark
	}
	if acc.FeeShares == nil || acc.FeeShares.Sign() <= 0 {
		return big.NewInt(0)
	}
	v.mint(v.collector, acc.FeeShares)
	v.logger.Info("fees accrued",
		slog.String("fee_shares", acc.FeeShares.String()),
		slog.String("collector", v.collector.Hex()),
	)
	v.record(ctx, domain.EventFeeAccrued, map[string]any{
		"fee_shares": acc.FeeShares.String(),
		"collector":  v.collector.Hex(),
	})
	return new(big.Int).Set(acc.FeeShares)
}

// Pause stops deposits, redemptions, and releases.
func (v *Vault) Pause(ctx context.Context, caller common.Address) error {
	return v.setPaused(ctx, caller, true)
}

func (v *Vault) Unpause(ctx context.Context, caller common.Address) error {
	return v.setPaused(ctx, caller, false)
}

func (v *Vault) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	if v.registry != nil && !v.registry.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("vault: pause by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.paused = paused
	evType := domain.EventVaultPaused
	if !paused {
		evType = domain.EventVaultUnpaused
	}
	v.logger.Warn("pause state changed", slog.Bool("paused", paused), slog.String("caller", caller.Hex()))
	v.record(ctx, evType, map[string]any{"caller": caller.Hex()})
	return nil
}

// SetRouter swaps the routing backend. Admin only.
func (v *Vault) SetRouter(ctx context.Context, caller common.Address, r domain.Router) error {
	if v.registry != nil && !v.registry.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("vault: set router by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.router = r
	v.record(ctx, domain.EventAuthChanged, map[string]any{
		"caller": caller.Hex(),
		"change": "router",
		"router": r.Address().Hex(),
	})
	return nil
}

// SetFeePolicy swaps the fee schedule. Admin only. Accrues under the old
// schedule first so the switch can't reprice history.
func (v *Vault) SetFeePolicy(ctx context.Context, caller common.Address, p domain.FeePolicy) error {
	if v.registry != nil && !v.registry.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("vault: set fee policy by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrueLocked(ctx)
	v.feePolicy = p
	v.record(ctx, domain.EventAuthChanged, map[string]any{
		"caller": caller.Hex(),
		"change": "fee_policy",
	})
	return nil
}

// SyncHoldings reconciles the tracked liquid balance with the token's
// actual balance at the vault address. Donations sent directly to the
// vault become AUM here, never silently.
func (v *Vault) SyncHoldings(ctx context.Context, caller common.Address) (*big.Int, error) {
	if v.registry != nil && !v.registry.Has(caller, domain.CapAdmin) {
		return nil, fmt.Errorf("vault: sync by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	actual, err := v.token.BalanceOf(ctx, v.addr)
	if err != nil {
		return nil, fmt.Errorf("vault: sync: %w", err)
	}
	delta := new(big.Int).Sub(actual, v.liquid)
	if delta.Sign() == 0 {
		return delta, nil
	}
	v.liquid.Set(actual)
	v.logger.Info("holdings synced", slog.String("delta", delta.String()))
	v.record(ctx, domain.EventAuthChanged, map[string]any{
		"caller": caller.Hex(),
		"change": "sync_holdings",
		"delta":  delta.String(),
	})
	return delta, nil
}

// Status returns a snapshot of the accounting state.
func (v *Vault) Status() domain.VaultStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	holdings := make(map[common.Address]*big.Int, len(v.holdings))
	for a, h := range v.holdings {
		holdings[a] = new(big.Int).Set(h)
	}
	return domain.VaultStatus{
		Name:          v.name,
		Symbol:        v.symbol,
		Underlying:    v.underlying,
		TotalAssets:   v.totalAssetsLocked(),
		TotalShares:   new(big.Int).Set(v.totalShares),
		LiquidBalance: new(big.Int).Set(v.liquid),
		DeployedValue: new(big.Int).Set(v.deployed),
		Holdings:      holdings,
		Paused:        v.paused,
		FeeCheckpoint: v.lastAccrual,
	}
}

// SharesOf returns owner's share balance.
func (v *Vault) SharesOf(owner common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.shares[owner]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (v *Vault) TotalShares() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.totalShares)
}

func (v *Vault) TotalAssets() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalAssetsLocked()
}

// ApproveShares lets spender redeem up to amount of owner's shares.
func (v *Vault) ApproveShares(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: approve shares: %w", domain.ErrZeroAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		v.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// ShareAllowance returns how many of owner's shares spender may redeem.
func (v *Vault) ShareAllowance(owner, spender common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.shareAllowanceLocked(owner, spender))
}

// shareAllowanceLocked requires the lock; returns the live value.
func (v *Vault) shareAllowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := v.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return big.NewInt(0)
}

// mint requires the lock.
func (v *Vault) mint(owner common.Address, amount *big.Int) {
	if b, ok := v.shares[owner]; ok {
		b.Add(b, amount)
	} else {
		v.shares[owner] = new(big.Int).Set(amount)
	}
	v.totalShares.Add(v.totalShares, amount)
}

// record writes audit and emits. Failures are logged, never surfaced.
func (v *Vault) record(ctx context.Context, evType string, data map[string]any) {
	if v.audit != nil {
		if err := v.audit.Log(ctx, evType, data); err != nil {
			v.logger.Warn("audit write failed", slog.String("event", evType), slog.String("error", err.Error()))
		}
	}
	if v.sink != nil {
		v.sink.Emit(ctx, domain.Event{Type: evType, At: v.now().UTC(), Data: data})
	}
}

// SetClock overrides the time source. Tests only.
func (v *Vault) SetClock(now func() time.Time) { v.now = now }
