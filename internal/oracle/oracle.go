// Package oracle implements the signal oracle: attestation intake, signer
// authorization, and replay/expiry/confidence validation for trade signals.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/crypto"
	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/registry"
)

// maxBps is the basis-point ceiling shared by size and confidence fields.
const maxBps = 10000

// Config holds the oracle's validation policy. Mutations apply to subsequent
// postings only; stored signals are never reinterpreted.
type Config struct {
	StrategyVersion  uint64
	MinConfidenceBps uint32
	// ExpiryWindow bounds how far in the future a deadline may lie.
	ExpiryWindow time.Duration
}

// Oracle validates and stores attested trade signals. All state it owns (the
// record map, the permanent used-nonce set, the sequence counter) is guarded
// by a single mutex: every mutating operation is serialized and atomic.
type Oracle struct {
	mu  sync.RWMutex
	cfg Config

	chainID  int64
	instance common.Address // verifying identity bound into the attestation domain

	registry *registry.Registry

	records    map[common.Hash]domain.SignalRecord
	usedNonces map[common.Hash]bool
	seq        uint64

	signals domain.SignalStore // optional durable write-through
	nonces  domain.NonceStore  // optional, never pruned
	audit   domain.AuditStore  // optional
	sink    domain.EventSink   // optional

	logger *slog.Logger
	now    func() time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Signals domain.SignalStore
	Nonces  domain.NonceStore
	Audit   domain.AuditStore
	Sink    domain.EventSink
}

// New creates an Oracle bound to one chain and instance identity.
func New(cfg Config, chainID int64, instance common.Address, reg *registry.Registry, opts Options, logger *slog.Logger) *Oracle {
	return &Oracle{
		cfg:        cfg,
		chainID:    chainID,
		instance:   instance,
		registry:   reg,
		records:    make(map[common.Hash]domain.SignalRecord),
		usedNonces: make(map[common.Hash]bool),
		signals:    opts.Signals,
		nonces:     opts.Nonces,
		audit:      opts.Audit,
		sink:       opts.Sink,
		logger:     logger.With(slog.String("component", "oracle")),
		now:        time.Now,
	}
}

// Load seeds the in-memory record and nonce sets from the durable stores.
// Call once at startup, before serving.
func (o *Oracle) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.nonces != nil {
		used, err := o.nonces.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("oracle: load nonces: %w", err)
		}
		for _, n := range used {
			o.usedNonces[n] = true
		}
	}

	if o.signals != nil {
		recs, err := o.signals.LoadAll(ctx)
		if err != nil {
			return fmt.Errorf("oracle: load signals: %w", err)
		}
		for _, rec := range recs {
			o.records[rec.ID] = rec
			o.usedNonces[rec.Signal.Nonce] = true
			if rec.Seq > o.seq {
				o.seq = rec.Seq
			}
		}
	}

	o.logger.Info("oracle state loaded",
		slog.Int("signals", len(o.records)),
		slog.Int("used_nonces", len(o.usedNonces)),
	)
	return nil
}

// PostSignal validates and stores an attested signal, returning its
// deterministic identifier. Validation order: deadline, strategy version,
// confidence, attestation, nonce. Any failure leaves no state change.
func (o *Oracle) PostSignal(ctx context.Context, poster common.Address, s domain.Signal, attestation []byte) (common.Hash, error) {
	if !o.registry.Has(poster, domain.CapPostSignal) {
		return common.Hash{}, fmt.Errorf("oracle: post by %s: %w", poster.Hex(), domain.ErrUnauthorized)
	}
	if !s.Side.Valid() || s.SizeBps == 0 || s.SizeBps > maxBps || s.ConfidenceBps > maxBps ||
		s.PriceRef == nil || s.PriceRef.Sign() <= 0 || s.Base == s.Quote {
		return common.Hash{}, fmt.Errorf("oracle: %w", domain.ErrInvalidSignal)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now().UTC()

	// 1. Deadline strictly in the future, and inside the expiry window.
	if s.Expired(now) || s.Deadline == uint64(now.Unix()) {
		return common.Hash{}, fmt.Errorf("oracle: deadline %d at %d: %w", s.Deadline, now.Unix(), domain.ErrDeadlinePassed)
	}
	if o.cfg.ExpiryWindow > 0 && s.Deadline > uint64(now.Add(o.cfg.ExpiryWindow).Unix()) {
		return common.Hash{}, fmt.Errorf("oracle: deadline %d: %w", s.Deadline, domain.ErrDeadlineTooFar)
	}

	// 2. Strategy version.
	if s.StrategyVersion != o.cfg.StrategyVersion {
		return common.Hash{}, fmt.Errorf("oracle: version %d, accepted %d: %w",
			s.StrategyVersion, o.cfg.StrategyVersion, domain.ErrWrongVersion)
	}

	// 3. Confidence floor.
	if s.ConfidenceBps < o.cfg.MinConfidenceBps {
		return common.Hash{}, fmt.Errorf("oracle: confidence %d < %d: %w",
			s.ConfidenceBps, o.cfg.MinConfidenceBps, domain.ErrLowConfidence)
	}

	// 4. Attestation must recover to a registered signer.
	signer, err := crypto.RecoverSigner(o.chainID, o.instance, s, attestation)
	if err != nil {
		return common.Hash{}, fmt.Errorf("oracle: %w", err)
	}
	if !o.registry.IsAuthorizedSigner(signer) {
		return common.Hash{}, fmt.Errorf("oracle: signer %s not registered: %w", signer.Hex(), domain.ErrBadAttestation)
	}

	// 5. Nonce single use, forever.
	if o.usedNonces[s.Nonce] {
		return common.Hash{}, fmt.Errorf("oracle: nonce %s: %w", s.Nonce.Hex(), domain.ErrNonceUsed)
	}

	id := crypto.SignalID(o.chainID, o.instance, s)
	rec := domain.SignalRecord{
		ID:          id,
		Signal:      s,
		Attestation: attestation,
		Signer:      signer,
		Poster:      poster,
		Seq:         o.seq + 1,
		PostedAt:    now,
	}

	// Durable write-through before the in-memory commit, so a store failure
	// leaves no observable state.
	if o.signals != nil {
		if err := o.signals.Insert(ctx, rec); err != nil {
			return common.Hash{}, fmt.Errorf("oracle: persist signal: %w", err)
		}
	}
	if o.nonces != nil {
		if err := o.nonces.Add(ctx, s.Nonce); err != nil {
			return common.Hash{}, fmt.Errorf("oracle: persist nonce: %w", err)
		}
	}

	o.records[id] = rec
	o.usedNonces[s.Nonce] = true
	o.seq = rec.Seq

	o.logger.Info("signal posted",
		slog.String("signal_id", id.Hex()),
		slog.String("signer", signer.Hex()),
		slog.String("side", s.Side.String()),
		slog.Uint64("seq", rec.Seq),
	)
	o.emit(ctx, domain.Event{
		Type: domain.EventSignalPosted,
		At:   now,
		Data: map[string]any{
			"signal_id": id.Hex(),
			"base":      s.Base.Hex(),
			"quote":     s.Quote.Hex(),
			"side":      s.Side.String(),
			"size_bps":  s.SizeBps,
			"seq":       rec.Seq,
		},
	})
	return id, nil
}

// GetSignal returns the stored record for id, or ErrNotFound.
func (o *Oracle) GetSignal(_ context.Context, id common.Hash) (domain.SignalRecord, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	rec, ok := o.records[id]
	if !ok {
		return domain.SignalRecord{}, fmt.Errorf("oracle: signal %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return rec, nil
}

// IsExpired evaluates the derived expiry of a stored signal at the current
// time. Expired signals stay stored; only execution refuses them.
func (o *Oracle) IsExpired(rec domain.SignalRecord) bool {
	return rec.Signal.Expired(o.now().UTC())
}

// AddSigner authorizes an identity to attest signals. Administrator-gated;
// delegates to the registry.
func (o *Oracle) AddSigner(ctx context.Context, caller, signer common.Address) error {
	return o.registry.Grant(ctx, caller, signer, domain.CapSigner)
}

// RemoveSigner revokes an identity's attestation authority.
func (o *Oracle) RemoveSigner(ctx context.Context, caller, signer common.Address) error {
	return o.registry.Revoke(ctx, caller, signer, domain.CapSigner)
}

// SetMinConfidence updates the confidence floor for subsequent postings.
func (o *Oracle) SetMinConfidence(ctx context.Context, caller common.Address, bps uint32) error {
	if bps > maxBps {
		return fmt.Errorf("oracle: min confidence %d: %w", bps, domain.ErrInvalidSignal)
	}
	return o.setConfig(ctx, caller, "min_confidence_bps", func(c *Config) { c.MinConfidenceBps = bps })
}

// SetStrategyVersion updates the accepted strategy version for subsequent
// postings. Already-stored signals keep the version they were posted under.
func (o *Oracle) SetStrategyVersion(ctx context.Context, caller common.Address, v uint64) error {
	return o.setConfig(ctx, caller, "strategy_version", func(c *Config) { c.StrategyVersion = v })
}

// SetExpiryWindow updates the maximum deadline distance for subsequent
// postings.
func (o *Oracle) SetExpiryWindow(ctx context.Context, caller common.Address, w time.Duration) error {
	if w <= 0 {
		return fmt.Errorf("oracle: expiry window %s: %w", w, domain.ErrInvalidSignal)
	}
	return o.setConfig(ctx, caller, "expiry_window", func(c *Config) { c.ExpiryWindow = w })
}

// Snapshot returns the current validation policy.
func (o *Oracle) Snapshot() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// Instance returns the oracle's verifying identity.
func (o *Oracle) Instance() common.Address { return o.instance }

// ChainID returns the chain identity bound into the attestation domain.
func (o *Oracle) ChainID() int64 { return o.chainID }

func (o *Oracle) setConfig(ctx context.Context, caller common.Address, field string, apply func(*Config)) error {
	if !o.registry.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("oracle: set %s: %w", field, domain.ErrUnauthorized)
	}

	o.mu.Lock()
	apply(&o.cfg)
	cfg := o.cfg
	o.mu.Unlock()

	o.logger.Info("oracle config updated", slog.String("field", field))
	if o.audit != nil {
		if err := o.audit.Log(ctx, "oracle.config", map[string]any{
			"caller":             caller.Hex(),
			"field":              field,
			"strategy_version":   cfg.StrategyVersion,
			"min_confidence_bps": cfg.MinConfidenceBps,
			"expiry_window_sec":  int64(cfg.ExpiryWindow.Seconds()),
		}); err != nil {
			o.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (o *Oracle) emit(ctx context.Context, ev domain.Event) {
	if o.sink != nil {
		o.sink.Emit(ctx, ev)
	}
}

// SetClock overrides the oracle's time source. Tests only.
func (o *Oracle) SetClock(now func() time.Time) { o.now = now }
