// Package registry maintains the capability bindings for a vault instance:
// which identities may administer, post signals, trigger execution, or attest
// as signers. It is an explicit keyed set owned by the instance, never a
// free-floating global.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

// Registry is the capability relation between identities and named
// capabilities. Many-to-many; all grants are revocable by an administrator.
type Registry struct {
	mu   sync.RWMutex
	caps map[common.Address]map[domain.Capability]bool

	audit  domain.AuditStore
	sink   domain.EventSink
	logger *slog.Logger
}

// New creates a Registry with the given admin holding the admin capability.
// audit and sink may be nil.
func New(admin common.Address, audit domain.AuditStore, sink domain.EventSink, logger *slog.Logger) *Registry {
	r := &Registry{
		caps:   make(map[common.Address]map[domain.Capability]bool),
		audit:  audit,
		sink:   sink,
		logger: logger.With(slog.String("component", "registry")),
	}
	r.caps[admin] = map[domain.Capability]bool{domain.CapAdmin: true}
	return r
}

// Has reports whether identity holds the given capability.
func (r *Registry) Has(identity common.Address, cap domain.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[identity][cap]
}

// IsAuthorizedSigner reports whether identity may attest signals.
func (r *Registry) IsAuthorizedSigner(identity common.Address) bool {
	return r.Has(identity, domain.CapSigner)
}

// Grant binds a capability to an identity. The caller must hold the admin
// capability.
func (r *Registry) Grant(ctx context.Context, caller, identity common.Address, cap domain.Capability) error {
	if !cap.Valid() {
		return fmt.Errorf("registry: unknown capability %q: %w", cap, domain.ErrInvalidSignal)
	}
	if !r.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("registry: grant %s: %w", cap, domain.ErrUnauthorized)
	}

	r.mu.Lock()
	if r.caps[identity] == nil {
		r.caps[identity] = make(map[domain.Capability]bool)
	}
	r.caps[identity][cap] = true
	r.mu.Unlock()

	r.record(ctx, caller, identity, cap, true)
	return nil
}

// Revoke removes a capability from an identity. The caller must hold the
// admin capability. Revoking a capability the identity does not hold is a
// no-op (still audited).
func (r *Registry) Revoke(ctx context.Context, caller, identity common.Address, cap domain.Capability) error {
	if !r.Has(caller, domain.CapAdmin) {
		return fmt.Errorf("registry: revoke %s: %w", cap, domain.ErrUnauthorized)
	}

	r.mu.Lock()
	if set := r.caps[identity]; set != nil {
		delete(set, cap)
		if len(set) == 0 {
			delete(r.caps, identity)
		}
	}
	r.mu.Unlock()

	r.record(ctx, caller, identity, cap, false)
	return nil
}

// Capabilities returns the capabilities currently held by identity.
func (r *Registry) Capabilities(identity common.Address) []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Capability, 0, len(r.caps[identity]))
	for _, c := range domain.KnownCapabilities {
		if r.caps[identity][c] {
			out = append(out, c)
		}
	}
	return out
}

// record writes the authorization-change audit trail and event. Failures are
// logged, never surfaced: the grant/revoke itself has already taken effect.
func (r *Registry) record(ctx context.Context, caller, identity common.Address, cap domain.Capability, granted bool) {
	detail := map[string]any{
		"caller":     caller.Hex(),
		"identity":   identity.Hex(),
		"capability": string(cap),
		"granted":    granted,
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, domain.EventAuthChanged, detail); err != nil {
			r.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	if r.sink != nil {
		r.sink.Emit(ctx, domain.Event{Type: domain.EventAuthChanged, At: time.Now().UTC(), Data: detail})
	}
}
