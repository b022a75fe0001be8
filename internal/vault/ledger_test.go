package vault

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/asset"
	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/registry"
	"github.com/tgcapital/signalvault/internal/router"
)

var (
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000E2")
	adminAddr  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	keeper     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000bb1")
	collector  = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	usdAddr    = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000D2")
)

type harness struct {
	vault  *Vault
	usd    *asset.MemToken
	weth   *asset.MemToken
	router *router.StaticRouter
	reg    *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	usd := asset.NewMemToken("USDX")
	weth := asset.NewMemToken("WETH")

	r := router.NewStatic(routerAddr)
	r.RegisterToken(usdAddr, usd)
	r.RegisterToken(wethAddr, weth)

	reg := registry.New(adminAddr, nil, nil, logger)
	if err := reg.Grant(context.Background(), adminAddr, keeper, domain.CapExecute); err != nil {
		t.Fatalf("grant execute: %v", err)
	}

	v := New(Config{
		Name:       "TG Vault",
		Symbol:     "TGV",
		Address:    vaultAddr,
		Underlying: usdAddr,
		Token:      usd,
		Registry:   reg,
		Router:     r,
		Collector:  collector,
	}, logger)

	return &harness{vault: v, usd: usd, weth: weth, router: r, reg: reg}
}

func (h *harness) deposit(t *testing.T, who common.Address, amount int64) *big.Int {
	t.Helper()
	ctx := context.Background()
	h.usd.Mint(who, big.NewInt(amount))
	if err := h.usd.Approve(ctx, who, vaultAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	shares, err := h.vault.Deposit(ctx, who, big.NewInt(amount))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return shares
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	h := newHarness(t)
	shares := h.deposit(t, alice, 1_000_000)

	if shares.Int64() != 1_000_000 {
		t.Errorf("shares = %s, want 1000000", shares)
	}
	if got := h.vault.TotalAssets().Int64(); got != 1_000_000 {
		t.Errorf("total assets = %d, want 1000000", got)
	}
}

func TestSecondDepositProRata(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, 1_000_000)

	// Donate 1,000,000 and sync: share price doubles.
	ctx := context.Background()
	h.usd.Mint(vaultAddr, big.NewInt(1_000_000))
	if _, err := h.vault.SyncHoldings(ctx, adminAddr); err != nil {
		t.Fatalf("sync: %v", err)
	}

	shares := h.deposit(t, bob, 500_000)
	if shares.Int64() != 250_000 {
		t.Errorf("bob shares = %s, want 250000", shares)
	}
}

func TestDepositRequiresAllowance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.usd.Mint(alice, big.NewInt(1000))

	_, err := h.vault.Deposit(ctx, alice, big.NewInt(1000))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want ErrInsufficientAllowance", err)
	}
}

func TestRedeemPaysProRata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	assets, err := h.vault.Redeem(ctx, alice, alice, big.NewInt(400_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if assets.Int64() != 400_000 {
		t.Errorf("assets = %s, want 400000", assets)
	}
	bal, _ := h.usd.BalanceOf(ctx, alice)
	if bal.Int64() != 400_000 {
		t.Errorf("alice balance = %s, want 400000", bal)
	}
	if got := h.vault.SharesOf(alice).Int64(); got != 600_000 {
		t.Errorf("remaining shares = %d, want 600000", got)
	}
}

func TestRedeemViaAllowance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1000)

	if _, err := h.vault.Redeem(ctx, bob, alice, big.NewInt(100)); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("unapproved spender redeemed: %v", err)
	}

	if err := h.vault.ApproveShares(alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("approve shares: %v", err)
	}
	if _, err := h.vault.Redeem(ctx, bob, alice, big.NewInt(100)); err != nil {
		t.Fatalf("redeem via allowance: %v", err)
	}
	if got := h.vault.ShareAllowance(alice, bob).Int64(); got != 200 {
		t.Errorf("remaining allowance = %d, want 200", got)
	}
	// Proceeds go to the share owner.
	bal, _ := h.usd.BalanceOf(ctx, alice)
	if bal.Int64() != 100 {
		t.Errorf("owner received %s, want 100", bal)
	}
}

func TestRedeemMoreThanOwned(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, 1000)

	_, err := h.vault.Redeem(context.Background(), alice, alice, big.NewInt(1001))
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("got %v, want ErrInsufficientShares", err)
	}
}

func TestRedeemBoundedByLiquidBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	h.weth.Mint(routerAddr, big.NewInt(1000))
	h.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(450))

	// Deploy 900,000 into WETH: totalAssets stays 1,000,000 at carried
	// cost, but only 100,000 is liquid.
	if _, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn:  usdAddr,
		AssetOut: wethAddr,
		AmountIn: big.NewInt(900_000),
		MinOut:   big.NewInt(400),
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	// 200,000 shares are nominally worth 200,000 but exceed the liquid
	// balance; the redeem must refuse rather than touch the deployed leg.
	_, err := h.vault.Redeem(ctx, alice, alice, big.NewInt(200_000))
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
	if got := h.vault.SharesOf(alice).Int64(); got != 1_000_000 {
		t.Errorf("shares = %d, want 1000000 (refused redeem burned shares)", got)
	}

	// Within the liquid balance the redeem clears.
	assets, err := h.vault.Redeem(ctx, alice, alice, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("redeem within liquid: %v", err)
	}
	if assets.Int64() != 100_000 {
		t.Errorf("assets = %s, want 100000", assets)
	}
}

func TestReleaseForTradeBuySideConservesAUM(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	h.weth.Mint(routerAddr, big.NewInt(1000))
	h.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(50))

	out, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn:  usdAddr,
		AssetOut: wethAddr,
		AmountIn: big.NewInt(100_000),
		MinOut:   big.NewInt(40),
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if out.Int64() != 50 {
		t.Errorf("out = %s, want 50", out)
	}

	st := h.vault.Status()
	if st.LiquidBalance.Int64() != 900_000 {
		t.Errorf("liquid = %s, want 900000", st.LiquidBalance)
	}
	if st.DeployedValue.Int64() != 100_000 {
		t.Errorf("deployed = %s, want 100000", st.DeployedValue)
	}
	if st.TotalAssets.Int64() != 1_000_000 {
		t.Errorf("total assets = %s, want 1000000 (carried at cost)", st.TotalAssets)
	}
	if st.Holdings[wethAddr].Int64() != 50 {
		t.Errorf("weth holding = %s, want 50", st.Holdings[wethAddr])
	}
}

func TestReleaseForTradeSlippageRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	h.weth.Mint(routerAddr, big.NewInt(1000))
	h.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(50))

	_, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn:  usdAddr,
		AssetOut: wethAddr,
		AmountIn: big.NewInt(100_000),
		MinOut:   big.NewInt(60),
	})
	if !errors.Is(err, domain.ErrSlippageExceeded) {
		t.Fatalf("got %v, want ErrSlippageExceeded", err)
	}

	st := h.vault.Status()
	if st.LiquidBalance.Int64() != 1_000_000 || st.DeployedValue.Sign() != 0 {
		t.Errorf("ledger mutated by failed trade: liquid=%s deployed=%s", st.LiquidBalance, st.DeployedValue)
	}
	// Input leg recovered from the router.
	bal, _ := h.usd.BalanceOf(ctx, vaultAddr)
	if bal.Int64() != 1_000_000 {
		t.Errorf("vault token balance = %s, want 1000000", bal)
	}
}

func TestReleaseForTradeSellSideRealizesPnL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	h.weth.Mint(routerAddr, big.NewInt(1000))
	h.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(50))
	h.router.SetSwapResult(wethAddr, usdAddr, big.NewInt(60_000))
	h.usd.Mint(routerAddr, big.NewInt(1_000_000))

	if _, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn: usdAddr, AssetOut: wethAddr, AmountIn: big.NewInt(100_000),
	}); err != nil {
		t.Fatalf("buy leg: %v", err)
	}

	// Sell half the position for 60,000: carried cost 50,000, PnL +10,000.
	out, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn: wethAddr, AssetOut: usdAddr, AmountIn: big.NewInt(25),
	})
	if err != nil {
		t.Fatalf("sell leg: %v", err)
	}
	if out.Int64() != 60_000 {
		t.Errorf("out = %s, want 60000", out)
	}

	st := h.vault.Status()
	if st.DeployedValue.Int64() != 50_000 {
		t.Errorf("deployed = %s, want 50000", st.DeployedValue)
	}
	if st.LiquidBalance.Int64() != 960_000 {
		t.Errorf("liquid = %s, want 960000", st.LiquidBalance)
	}
	if st.TotalAssets.Int64() != 1_010_000 {
		t.Errorf("total assets = %s, want 1010000", st.TotalAssets)
	}
	if st.Holdings[wethAddr].Int64() != 25 {
		t.Errorf("weth holding = %s, want 25", st.Holdings[wethAddr])
	}
}

func TestReleaseForTradeRequiresCapability(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, 1000)

	_, err := h.vault.ReleaseForTrade(context.Background(), alice, domain.TradeOrder{
		AssetIn: usdAddr, AssetOut: wethAddr, AmountIn: big.NewInt(100),
	})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestReleaseForTradeInsufficientLiquid(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, alice, 1000)

	_, err := h.vault.ReleaseForTrade(context.Background(), keeper, domain.TradeOrder{
		AssetIn: usdAddr, AssetOut: wethAddr, AmountIn: big.NewInt(1001),
	})
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("got %v, want ErrInsufficientLiquidity", err)
	}
}

// reentrantRouter calls back into the vault mid-swap.
type reentrantRouter struct {
	*router.StaticRouter
	vault *Vault
	got   error
}

func (r *reentrantRouter) ExecuteSwap(ctx context.Context, assetIn, assetOut common.Address, amountIn, minOut *big.Int, recipient common.Address, routeData []byte) (*big.Int, error) {
	_, r.got = r.vault.Redeem(ctx, alice, alice, big.NewInt(1))
	return r.StaticRouter.ExecuteSwap(ctx, assetIn, assetOut, amountIn, minOut, recipient, routeData)
}

func TestReleaseForTradeBlocksReentrancy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	h.weth.Mint(routerAddr, big.NewInt(1000))
	h.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(50))

	rr := &reentrantRouter{StaticRouter: h.router, vault: h.vault}
	if err := h.vault.SetRouter(ctx, adminAddr, rr); err != nil {
		t.Fatalf("set router: %v", err)
	}

	if _, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn: usdAddr, AssetOut: wethAddr, AmountIn: big.NewInt(100_000),
	}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !errors.Is(rr.got, domain.ErrReentrant) {
		t.Fatalf("nested call got %v, want ErrReentrant", rr.got)
	}
}

func TestPauseBlocksOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1000)

	if err := h.vault.Pause(ctx, alice); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin paused: %v", err)
	}
	if err := h.vault.Pause(ctx, adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}

	h.usd.Mint(bob, big.NewInt(100))
	_ = h.usd.Approve(ctx, bob, vaultAddr, big.NewInt(100))
	if _, err := h.vault.Deposit(ctx, bob, big.NewInt(100)); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("deposit while paused: %v", err)
	}
	if _, err := h.vault.Redeem(ctx, alice, alice, big.NewInt(1)); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("redeem while paused: %v", err)
	}
	if _, err := h.vault.ReleaseForTrade(ctx, keeper, domain.TradeOrder{
		AssetIn: usdAddr, AssetOut: wethAddr, AmountIn: big.NewInt(1),
	}); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("release while paused: %v", err)
	}

	if err := h.vault.Unpause(ctx, adminAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.vault.Deposit(ctx, bob, big.NewInt(100)); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

// fixedFee mints a constant share amount per accrual.
type fixedFee struct{ shares int64 }

func (f fixedFee) Accrue(state domain.FeeState) domain.FeeAccrual {
	return domain.FeeAccrual{FeeShares: big.NewInt(f.shares), HighWaterMark: state.HighWaterMark}
}

func TestAccrueFeesMintsToCollector(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, alice, 1_000_000)

	if err := h.vault.SetFeePolicy(ctx, adminAddr, fixedFee{shares: 500}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	minted := h.vault.AccrueFees(ctx)
	if minted.Int64() != 500 {
		t.Errorf("minted = %s, want 500", minted)
	}
	if got := h.vault.SharesOf(collector).Int64(); got != 500 {
		t.Errorf("collector shares = %d, want 500", got)
	}
	// Dilution, not asset movement.
	if got := h.vault.TotalAssets().Int64(); got != 1_000_000 {
		t.Errorf("total assets = %d, want 1000000", got)
	}
	if got := h.vault.TotalShares().Int64(); got != 1_000_500 {
		t.Errorf("total shares = %d, want 1000500", got)
	}
}

func TestFeeCheckpointAdvances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	clock := time.Unix(1_800_000_000, 0)
	h.vault.SetClock(func() time.Time { return clock })

	h.vault.AccrueFees(ctx)
	first := h.vault.Status().FeeCheckpoint

	clock = clock.Add(time.Hour)
	h.vault.AccrueFees(ctx)
	second := h.vault.Status().FeeCheckpoint

	if !second.After(first) {
		t.Errorf("checkpoint did not advance: %v -> %v", first, second)
	}
}
