// Package executor coordinates trade execution: it fetches an attested
// signal, revalidates it at execution time, sizes the order against the
// vault, and settles through the vault's controlled release.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/vault"
)

const maxBps = 10000

// SignalSource is where the coordinator fetches validated signals from.
// Implemented by *oracle.Oracle.
type SignalSource interface {
	GetSignal(ctx context.Context, id common.Hash) (domain.SignalRecord, error)
}

// Ledger is the vault surface the coordinator settles through.
// Implemented by *vault.Vault.
type Ledger interface {
	Underlying() common.Address
	Status() domain.VaultStatus
	ReleaseForTrade(ctx context.Context, caller common.Address, order domain.TradeOrder) (*big.Int, error)
}

// Authorizer gates who may trigger executions.
type Authorizer interface {
	Has(identity common.Address, cap domain.Capability) bool
}

// Coordinator executes each signal at most once. The in-memory executed-set
// answers fast for this process; the ExecutionStore is the durable marker,
// consulted under the per-signal lock so a replica that never saw the first
// execution still refuses the second.
type Coordinator struct {
	mu sync.Mutex

	signals  SignalSource
	ledger   Ledger
	registry Authorizer

	executed map[common.Hash]bool

	store domain.ExecutionStore
	locks domain.LockManager
	sink  domain.EventSink

	logger *slog.Logger
	now    func() time.Time
}

// Options are the optional collaborators. Nil fields are skipped.
type Options struct {
	Store domain.ExecutionStore
	Locks domain.LockManager
	Sink  domain.EventSink
}

func New(signals SignalSource, ledger Ledger, reg Authorizer, opts Options, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		signals:  signals,
		ledger:   ledger,
		registry: reg,
		executed: make(map[common.Hash]bool),
		store:    opts.Store,
		locks:    opts.Locks,
		sink:     opts.Sink,
		logger:   logger.With(slog.String("component", "executor")),
		now:      time.Now,
	}
}

// Load seeds the executed-set from the store. Call once before serving.
func (c *Coordinator) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	ids, err := c.store.LoadExecutedIDs(ctx)
	if err != nil {
		return fmt.Errorf("executor: load executed set: %w", err)
	}
	c.mu.Lock()
	for _, id := range ids {
		c.executed[id] = true
	}
	n := len(c.executed)
	c.mu.Unlock()
	c.logger.Info("executed set loaded", slog.Int("count", n))
	return nil
}

// Execute runs the full pipeline for one signal and returns the durable
// execution record. The signal is marked executed only after settlement
// succeeds, so a failed attempt may be retried.
func (c *Coordinator) Execute(ctx context.Context, keeper common.Address, intent domain.TradeIntent) (domain.TradeExecution, error) {
	var zero domain.TradeExecution

	if c.registry != nil && !c.registry.Has(keeper, domain.CapExecute) {
		return zero, fmt.Errorf("executor: execute by %s: %w", keeper.Hex(), domain.ErrUnauthorized)
	}

	if c.locks != nil {
		release, err := c.locks.Acquire(ctx, "exec:"+intent.SignalID.Hex(), 30*time.Second)
		if err != nil {
			return zero, fmt.Errorf("executor: signal %s: %w", intent.SignalID.Hex(), err)
		}
		defer release()
	}

	c.mu.Lock()
	done := c.executed[intent.SignalID]
	c.mu.Unlock()
	if done {
		return zero, fmt.Errorf("executor: signal %s: %w", intent.SignalID.Hex(), domain.ErrAlreadyExecuted)
	}
	if c.store != nil {
		settled, err := c.store.WasExecuted(ctx, intent.SignalID)
		if err != nil {
			return zero, fmt.Errorf("executor: signal %s: %w", intent.SignalID.Hex(), err)
		}
		if settled {
			c.markExecuted(intent.SignalID)
			return zero, fmt.Errorf("executor: signal %s: %w", intent.SignalID.Hex(), domain.ErrAlreadyExecuted)
		}
	}

	// Fetch.
	rec, err := c.signals.GetSignal(ctx, intent.SignalID)
	if err != nil {
		return zero, fmt.Errorf("executor: fetch signal: %w", err)
	}
	s := rec.Signal

	// Revalidate at execution time.
	now := c.now().UTC()
	if s.Expired(now) {
		return zero, fmt.Errorf("executor: signal %s deadline %d: %w", rec.ID.Hex(), s.Deadline, domain.ErrSignalExpired)
	}
	if intent.Deadline > 0 && uint64(now.Unix()) >= intent.Deadline {
		return zero, fmt.Errorf("executor: intent deadline %d: %w", intent.Deadline, domain.ErrIntentExpired)
	}
	if intent.MaxSlippageBps > maxBps {
		return zero, fmt.Errorf("executor: slippage %d bps: %w", intent.MaxSlippageBps, domain.ErrInvalidSignal)
	}
	underlying := c.ledger.Underlying()
	if s.Quote != underlying {
		return zero, fmt.Errorf("executor: signal quote %s, vault underlying %s: %w",
			s.Quote.Hex(), underlying.Hex(), domain.ErrInvalidSignal)
	}

	// Size against the vault snapshot.
	st := c.ledger.Status()
	order, err := sizeOrder(s, st, intent)
	if err != nil {
		return zero, err
	}

	// Route and settle through the vault; accounting commits only on a
	// fill that clears the effective floor.
	out, err := c.ledger.ReleaseForTrade(ctx, keeper, order)
	if err != nil {
		return zero, fmt.Errorf("executor: settle signal %s: %w", rec.ID.Hex(), err)
	}

	exec := domain.TradeExecution{
		ID:         uuid.NewString(),
		SignalID:   rec.ID,
		AssetIn:    order.AssetIn,
		AssetOut:   order.AssetOut,
		AmountIn:   order.AmountIn,
		AmountOut:  out,
		Keeper:     keeper,
		ExecutedAt: now,
	}

	if c.store != nil {
		if err := c.store.Insert(ctx, exec); err != nil {
			if errors.Is(err, domain.ErrAlreadyExecuted) {
				// A marker landed between our check and settlement. The
				// lock should make this unreachable; surface it rather
				// than record a second release.
				c.markExecuted(rec.ID)
				return zero, fmt.Errorf("executor: settle signal %s: %w", rec.ID.Hex(), err)
			}
			// Settlement already happened; the in-memory marker still
			// protects this process, so log and continue.
			c.logger.Error("execution record write failed",
				slog.String("execution_id", exec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	c.markExecuted(rec.ID)

	c.logger.Info("signal executed",
		slog.String("signal_id", rec.ID.Hex()),
		slog.String("execution_id", exec.ID),
		slog.String("amount_in", order.AmountIn.String()),
		slog.String("amount_out", out.String()),
		slog.String("keeper", keeper.Hex()),
	)
	if c.sink != nil {
		c.sink.Emit(ctx, domain.Event{
			Type: domain.EventExecuted,
			At:   now,
			Data: map[string]any{
				"signal_id":    rec.ID.Hex(),
				"execution_id": exec.ID,
				"asset_in":     order.AssetIn.Hex(),
				"asset_out":    order.AssetOut.Hex(),
				"amount_in":    order.AmountIn.String(),
				"amount_out":   out.String(),
				"keeper":       keeper.Hex(),
			},
		})
	}
	return exec, nil
}

func (c *Coordinator) markExecuted(id common.Hash) {
	c.mu.Lock()
	c.executed[id] = true
	c.mu.Unlock()
}

// WasExecuted reports whether the signal already settled.
func (c *Coordinator) WasExecuted(id common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed[id]
}

// sizeOrder turns a signal plus intent into a vault order: direction from
// the side, size as bps of the relevant balance, and an effective output
// floor folding the slippage bound into the caller's absolute minimum.
func sizeOrder(s domain.Signal, st domain.VaultStatus, intent domain.TradeIntent) (domain.TradeOrder, error) {
	var order domain.TradeOrder
	order.RouteData = intent.RouteData

	var amountIn *big.Int
	switch s.Side {
	case domain.SideBuyBase:
		order.AssetIn = s.Quote
		order.AssetOut = s.Base
		amountIn = vault.BpsOf(st.TotalAssets, s.SizeBps)
		if amountIn.Cmp(st.LiquidBalance) > 0 {
			return order, fmt.Errorf("executor: size %s with %s liquid: %w",
				amountIn, st.LiquidBalance, domain.ErrInsufficientLiquidity)
		}
	case domain.SideSellBase:
		order.AssetIn = s.Base
		order.AssetOut = s.Quote
		held := st.Holdings[s.Base]
		if held == nil || held.Sign() == 0 {
			return order, fmt.Errorf("executor: no position in %s: %w", s.Base.Hex(), domain.ErrInsufficientLiquidity)
		}
		amountIn = vault.BpsOf(held, s.SizeBps)
	default:
		return order, fmt.Errorf("executor: %w", domain.ErrInvalidSignal)
	}
	if amountIn.Sign() <= 0 {
		return order, fmt.Errorf("executor: sized to zero: %w", domain.ErrZeroAmount)
	}
	order.AmountIn = amountIn
	order.MinOut = effectiveMinOut(s, amountIn, intent)
	return order, nil
}

// effectiveMinOut returns the stricter of the intent's absolute minimum
// and the slippage bound derived from the signal's reference price.
// PriceRef is quote units per base unit.
func effectiveMinOut(s domain.Signal, amountIn *big.Int, intent domain.TradeIntent) *big.Int {
	floor := big.NewInt(0)
	if intent.MinOut != nil {
		floor = new(big.Int).Set(intent.MinOut)
	}
	if intent.MaxSlippageBps == 0 || s.PriceRef == nil || s.PriceRef.Sign() <= 0 {
		return floor
	}

	var expected *big.Int
	if s.Side == domain.SideBuyBase {
		expected = new(big.Int).Quo(amountIn, s.PriceRef)
	} else {
		expected = new(big.Int).Mul(amountIn, s.PriceRef)
	}
	bound := vault.BpsOf(expected, maxBps-intent.MaxSlippageBps)
	if bound.Cmp(floor) > 0 {
		return bound
	}
	return floor
}
