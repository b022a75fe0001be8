package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
)

var (
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	attester = common.HexToAddress("0x0000000000000000000000000000000000000002")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func newTestRegistry() *Registry {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(admin, nil, nil, logger)
}

func TestAdminBootstrap(t *testing.T) {
	r := newTestRegistry()
	if !r.Has(admin, domain.CapAdmin) {
		t.Fatal("constructor admin does not hold admin capability")
	}
	if r.Has(admin, domain.CapSigner) {
		t.Error("admin should not be a signer by default")
	}
}

func TestGrantRevoke(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if err := r.Grant(ctx, admin, attester, domain.CapSigner); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !r.IsAuthorizedSigner(attester) {
		t.Fatal("granted signer not authorized")
	}

	if err := r.Revoke(ctx, admin, attester, domain.CapSigner); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if r.IsAuthorizedSigner(attester) {
		t.Fatal("revoked signer still authorized")
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	err := r.Grant(ctx, stranger, attester, domain.CapSigner)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("grant by non-admin: got %v, want ErrUnauthorized", err)
	}
	err = r.Revoke(ctx, stranger, admin, domain.CapAdmin)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("revoke by non-admin: got %v, want ErrUnauthorized", err)
	}
}

func TestGrantRejectsUnknownCapability(t *testing.T) {
	r := newTestRegistry()
	if err := r.Grant(context.Background(), admin, attester, domain.Capability("superuser")); err == nil {
		t.Fatal("unknown capability accepted")
	}
}

func TestMultipleCapabilitiesPerIdentity(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	for _, c := range []domain.Capability{domain.CapPostSignal, domain.CapExecute} {
		if err := r.Grant(ctx, admin, attester, c); err != nil {
			t.Fatalf("grant %s: %v", c, err)
		}
	}

	caps := r.Capabilities(attester)
	if len(caps) != 2 {
		t.Fatalf("capabilities = %v, want two entries", caps)
	}
}
