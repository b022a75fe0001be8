package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/tgcapital/signalvault/internal/asset"
	"github.com/tgcapital/signalvault/internal/crypto"
	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/executor"
	"github.com/tgcapital/signalvault/internal/feepolicy"
	"github.com/tgcapital/signalvault/internal/notify"
	"github.com/tgcapital/signalvault/internal/oracle"
	"github.com/tgcapital/signalvault/internal/registry"
	"github.com/tgcapital/signalvault/internal/router"
	"github.com/tgcapital/signalvault/internal/server"
	"github.com/tgcapital/signalvault/internal/server/handler"
	"github.com/tgcapital/signalvault/internal/server/ws"
	"github.com/tgcapital/signalvault/internal/vault"
)

// Core bundles the domain objects built on top of the wired infrastructure.
type Core struct {
	Registry *registry.Registry
	Oracle   *oracle.Oracle
	Vault    *vault.Vault
	Executor *executor.Coordinator
	Token    *asset.MemToken
	Router   *router.StaticRouter
}

// routerAddress is the ledger identity of the in-process router. Derived, not
// configured, so it can never collide with a configured vault or asset id.
var routerAddress = common.BytesToAddress(ethcrypto.Keccak256([]byte("signalvault/router"))[12:])

// buildCore constructs the registry, oracle, vault, and executor over the
// wired infrastructure, grants the configured capabilities, and replays
// durable state (used nonces, signal records, executed markers).
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*Core, error) {
	admin := common.HexToAddress(a.cfg.Admin)

	sink := domain.FanoutSink{
		domain.BusSink{Bus: deps.Bus},
		notify.NewEventSink(deps.Notifier),
	}

	reg := registry.New(admin, deps.AuditStore, sink, a.logger)

	orc := oracle.New(oracle.Config{
		StrategyVersion:  a.cfg.Oracle.StrategyVersion,
		MinConfidenceBps: a.cfg.Oracle.MinConfidenceBps,
		ExpiryWindow:     a.cfg.Oracle.ExpiryWindow.Duration,
	}, a.cfg.ChainID, common.HexToAddress(a.cfg.Oracle.Instance), reg, oracle.Options{
		Signals: deps.SignalStore,
		Nonces:  deps.NonceStore,
		Audit:   deps.AuditStore,
		Sink:    sink,
	}, a.logger)
	if err := orc.Load(ctx); err != nil {
		return nil, err
	}

	// Asset universe: the underlying lives on an in-memory ledger behind the
	// static router. Real swap routing stays out of scope; everything above
	// the Token/Router interfaces is production wiring.
	token := asset.NewMemToken(a.cfg.Vault.Symbol)
	rtr := router.NewStatic(routerAddress)
	rtr.RegisterToken(common.HexToAddress(a.cfg.Vault.Underlying), token)

	pol := &feepolicy.Policy{
		PerformanceBps: a.cfg.Fees.PerformanceBps,
		ManagementBps:  a.cfg.Fees.ManagementBps,
	}

	vlt := vault.New(vault.Config{
		Name:       a.cfg.Vault.Name,
		Symbol:     a.cfg.Vault.Symbol,
		Address:    common.HexToAddress(a.cfg.Vault.Address),
		Underlying: common.HexToAddress(a.cfg.Vault.Underlying),
		Token:      token,
		Registry:   reg,
		Router:     rtr,
		FeePolicy:  pol,
		Collector:  common.HexToAddress(a.cfg.Vault.Collector),
		Audit:      deps.AuditStore,
		Sink:       sink,
	}, a.logger)

	exec := executor.New(orc, vlt, reg, executor.Options{
		Store: deps.ExecutionStore,
		Locks: deps.LockManager,
		Sink:  sink,
	}, a.logger)
	if err := exec.Load(ctx); err != nil {
		return nil, err
	}

	// Startup grants. The admin address is the caller for each.
	for _, k := range a.cfg.Vault.Keepers {
		if err := reg.Grant(ctx, admin, common.HexToAddress(k), domain.CapExecute); err != nil {
			return nil, err
		}
	}
	for _, s := range a.cfg.Oracle.Signers {
		if err := orc.AddSigner(ctx, admin, common.HexToAddress(s)); err != nil {
			return nil, err
		}
	}

	// A locally configured attester key registers itself as a signer and may
	// post its own signals.
	if a.cfg.Attester.PrivateKey != "" || a.cfg.Attester.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Attester.PrivateKey,
			EncryptedKeyPath: a.cfg.Attester.EncryptedKeyPath,
			KeyPassword:      a.cfg.Attester.KeyPassword,
		})
		if err != nil {
			return nil, err
		}
		att, err := crypto.NewAttester(keyHex, a.cfg.ChainID, common.HexToAddress(a.cfg.Oracle.Instance))
		if err != nil {
			return nil, err
		}
		if err := orc.AddSigner(ctx, admin, att.Address()); err != nil {
			return nil, err
		}
		if err := reg.Grant(ctx, admin, att.Address(), domain.CapPostSignal); err != nil {
			return nil, err
		}
		a.logger.InfoContext(ctx, "local attester registered",
			slog.String("address", att.Address().Hex()),
		)
	}

	return &Core{
		Registry: reg,
		Oracle:   orc,
		Vault:    vlt,
		Executor: exec,
		Token:    token,
		Router:   rtr,
	}, nil
}

// ServerMode runs the HTTP API and WebSocket hub without the background
// fee and archival loops.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, core)
	return g.Wait()
}

// CoreMode runs the background fee accrual and archival loops without the
// HTTP surface. Useful when another replica serves the API.
func (a *App) CoreMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting core mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeAccrual(ctx, g, core)
	a.startArchiveSweeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: API, hub, fee accrual, and archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, core)
	a.startFeeAccrual(ctx, g, core)
	a.startArchiveSweeper(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *Core) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	startedAt := time.Now().UTC()
	hub := ws.NewHub(deps.Bus, core.Vault, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(startedAt, a.logger),
		Signals: handler.NewSignalHandler(core.Oracle, a.logger),
		Vault:   handler.NewVaultHandler(core.Vault, a.logger),
		Execute: handler.NewExecuteHandler(core.Executor, deps.ExecutionStore, a.logger),
		Admin:   handler.NewAdminHandler(core.Registry, core.Oracle, core.Vault, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startFeeAccrual adds a ticker goroutine that accrues fees on the configured
// period. Accrual is idempotent; a tick on an empty vault is a no-op.
func (a *App) startFeeAccrual(ctx context.Context, g *errgroup.Group, core *Core) {
	period := a.cfg.Fees.AccrualPeriod.Duration
	if period <= 0 || (a.cfg.Fees.PerformanceBps == 0 && a.cfg.Fees.ManagementBps == 0) {
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				minted := core.Vault.AccrueFees(ctx)
				if minted.Sign() > 0 {
					a.logger.InfoContext(ctx, "fees accrued",
						slog.String("shares", minted.String()),
					)
				}
			}
		}
	})
}

// startArchiveSweeper adds a goroutine that periodically moves aged rows to
// blob storage and prunes them from Postgres. The retention window is far
// larger than the signal expiry window, so pruned nonces can never be
// replayed against a live signal.
func (a *App) startArchiveSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.SweepInterval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				before := time.Now().UTC().Add(-retention)
				a.runArchiveSweep(ctx, deps.Archiver, before)
			}
		}
	})
}

// runArchiveSweep archives each record family once. Failures are logged and
// retried on the next tick rather than aborting the daemon.
func (a *App) runArchiveSweep(ctx context.Context, arch domain.Archiver, before time.Time) {
	sweep := []struct {
		name string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"signals", arch.ArchiveSignals},
		{"executions", arch.ArchiveExecutions},
		{"audit", arch.ArchiveAudit},
	}
	for _, s := range sweep {
		n, err := s.fn(ctx, before)
		if err != nil {
			a.logger.WarnContext(ctx, "archive sweep failed",
				slog.String("kind", s.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archive sweep",
				slog.String("kind", s.name),
				slog.Int64("archived", n),
			)
		}
	}
}
