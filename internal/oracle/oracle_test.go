package oracle

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tgcapital/signalvault/internal/crypto"
	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/registry"
)

const testChainID = int64(137)

var (
	testInstance = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	admin        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	poster       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	baseAsset    = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	quoteAsset   = common.HexToAddress("0x00000000000000000000000000000000000000C1")
)

type fixture struct {
	oracle   *Oracle
	attester *crypto.Attester
	clock    *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.New(admin, nil, nil, logger)
	if err := reg.Grant(ctx, admin, poster, domain.CapPostSignal); err != nil {
		t.Fatalf("grant post-signal: %v", err)
	}

	o := New(Config{
		StrategyVersion:  1,
		MinConfidenceBps: 500,
		ExpiryWindow:     time.Hour,
	}, testChainID, testInstance, reg, Options{}, logger)

	clock := &fakeClock{t: time.Unix(1_800_000_000, 0)}
	o.SetClock(clock.now)

	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	att, err := crypto.NewAttester(common.Bytes2Hex(ethcrypto.FromECDSA(pk)), testChainID, testInstance)
	if err != nil {
		t.Fatalf("new attester: %v", err)
	}
	if err := o.AddSigner(ctx, admin, att.Address()); err != nil {
		t.Fatalf("add signer: %v", err)
	}

	return &fixture{oracle: o, attester: att, clock: clock}
}

func (f *fixture) signal(nonce string) domain.Signal {
	return domain.Signal{
		Base:            baseAsset,
		Quote:           quoteAsset,
		Side:            domain.SideBuyBase,
		SizeBps:         1000,
		PriceRef:        big.NewInt(2000),
		ConfidenceBps:   800,
		StrategyVersion: 1,
		Deadline:        uint64(f.clock.t.Add(30 * time.Minute).Unix()),
		Nonce:           common.BytesToHash([]byte(nonce)),
		PayloadURI:      "ipfs://QmFake",
	}
}

func (f *fixture) post(t *testing.T, s domain.Signal) (common.Hash, error) {
	t.Helper()
	att, err := f.attester.Sign(s)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return f.oracle.PostSignal(context.Background(), poster, s, att)
}

func TestPostSignalStoresRecord(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")

	id, err := f.post(t, s)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if id != crypto.SignalID(testChainID, testInstance, s) {
		t.Error("returned id is not the canonical digest")
	}

	rec, err := f.oracle.GetSignal(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Seq != 1 {
		t.Errorf("seq = %d, want 1", rec.Seq)
	}
	if rec.Signer != f.attester.Address() {
		t.Errorf("recorded signer = %s, want %s", rec.Signer.Hex(), f.attester.Address().Hex())
	}
	if rec.Poster != poster {
		t.Errorf("recorded poster = %s, want %s", rec.Poster.Hex(), poster.Hex())
	}
}

func TestPostSignalRequiresCapability(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	att, _ := f.attester.Sign(s)

	_, err := f.oracle.PostSignal(context.Background(), common.HexToAddress("0xdead"), s, att)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestPostSignalPastDeadline(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	s.Deadline = uint64(f.clock.t.Add(-time.Minute).Unix())

	// Re-sign: deadline is part of the canonical encoding.
	if _, err := f.post(t, s); !errors.Is(err, domain.ErrDeadlinePassed) {
		t.Fatalf("got %v, want ErrDeadlinePassed", err)
	}

	// Never stored.
	id := crypto.SignalID(testChainID, testInstance, s)
	if _, err := f.oracle.GetSignal(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected signal was stored: %v", err)
	}
}

func TestPostSignalDeadlineBeyondWindow(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	s.Deadline = uint64(f.clock.t.Add(2 * time.Hour).Unix())

	if _, err := f.post(t, s); !errors.Is(err, domain.ErrDeadlineTooFar) {
		t.Fatalf("got %v, want ErrDeadlineTooFar", err)
	}
}

func TestPostSignalWrongVersion(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	s.StrategyVersion = 2

	if _, err := f.post(t, s); !errors.Is(err, domain.ErrWrongVersion) {
		t.Fatalf("got %v, want ErrWrongVersion", err)
	}
}

func TestPostSignalLowConfidence(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	s.ConfidenceBps = 100

	if _, err := f.post(t, s); !errors.Is(err, domain.ErrLowConfidence) {
		t.Fatalf("got %v, want ErrLowConfidence", err)
	}
}

func TestPostSignalUnregisteredSigner(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")

	pk, _ := ethcrypto.GenerateKey()
	rogue, err := crypto.NewAttester(common.Bytes2Hex(ethcrypto.FromECDSA(pk)), testChainID, testInstance)
	if err != nil {
		t.Fatalf("new attester: %v", err)
	}
	att, _ := rogue.Sign(s)

	_, err = f.oracle.PostSignal(context.Background(), poster, s, att)
	if !errors.Is(err, domain.ErrBadAttestation) {
		t.Fatalf("got %v, want ErrBadAttestation", err)
	}
}

func TestPostSignalTamperedFields(t *testing.T) {
	f := newFixture(t)
	s := f.signal("n1")
	att, _ := f.attester.Sign(s)

	s.SizeBps = 9000 // valid signature, different payload

	_, err := f.oracle.PostSignal(context.Background(), poster, s, att)
	if !errors.Is(err, domain.ErrBadAttestation) {
		t.Fatalf("got %v, want ErrBadAttestation", err)
	}
}

func TestNonceReplayRejectedEvenAfterExpiry(t *testing.T) {
	f := newFixture(t)

	if _, err := f.post(t, f.signal("n1")); err != nil {
		t.Fatalf("first post: %v", err)
	}

	// Let the first signal expire, then replay the nonce on a fresh signal.
	f.clock.advance(45 * time.Minute)

	s2 := f.signal("n1")
	s2.PriceRef = big.NewInt(2100)
	if _, err := f.post(t, s2); !errors.Is(err, domain.ErrNonceUsed) {
		t.Fatalf("got %v, want ErrNonceUsed", err)
	}
}

func TestSequenceNumbersMonotonic(t *testing.T) {
	f := newFixture(t)

	id1, err := f.post(t, f.signal("n1"))
	if err != nil {
		t.Fatalf("post 1: %v", err)
	}
	id2, err := f.post(t, f.signal("n2"))
	if err != nil {
		t.Fatalf("post 2: %v", err)
	}

	r1, _ := f.oracle.GetSignal(context.Background(), id1)
	r2, _ := f.oracle.GetSignal(context.Background(), id2)
	if r2.Seq != r1.Seq+1 {
		t.Errorf("seq %d then %d, want consecutive", r1.Seq, r2.Seq)
	}
}

func TestExpiryIsDerived(t *testing.T) {
	f := newFixture(t)

	id, err := f.post(t, f.signal("n1"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	rec, _ := f.oracle.GetSignal(context.Background(), id)

	if f.oracle.IsExpired(rec) {
		t.Fatal("fresh signal reported expired")
	}
	f.clock.advance(31 * time.Minute)
	if !f.oracle.IsExpired(rec) {
		t.Fatal("stale signal reported fresh")
	}

	// Still stored after expiry.
	if _, err := f.oracle.GetSignal(context.Background(), id); err != nil {
		t.Fatalf("expired signal purged: %v", err)
	}
}

func TestConfigMutatorsAdminGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.oracle.SetMinConfidence(ctx, poster, 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin set min confidence: %v", err)
	}
	if err := f.oracle.SetMinConfidence(ctx, admin, 900); err != nil {
		t.Fatalf("admin set min confidence: %v", err)
	}

	s := f.signal("n1") // confidence 800 < new floor 900
	if _, err := f.post(t, s); !errors.Is(err, domain.ErrLowConfidence) {
		t.Fatalf("new floor not applied: %v", err)
	}

	if err := f.oracle.SetStrategyVersion(ctx, admin, 2); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if got := f.oracle.Snapshot().StrategyVersion; got != 2 {
		t.Errorf("strategy version = %d, want 2", got)
	}
}
