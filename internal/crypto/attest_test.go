package crypto

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tgcapital/signalvault/internal/domain"
)

var testOracle = common.HexToAddress("0x00000000000000000000000000000000000000A1")

func testSignal() domain.Signal {
	return domain.Signal{
		Base:            common.HexToAddress("0x00000000000000000000000000000000000000B1"),
		Quote:           common.HexToAddress("0x00000000000000000000000000000000000000C1"),
		Side:            domain.SideBuyBase,
		SizeBps:         1000,
		PriceRef:        big.NewInt(2000),
		ConfidenceBps:   800,
		StrategyVersion: 1,
		Deadline:        1_900_000_000,
		Nonce:           common.BytesToHash([]byte("n1")),
		PayloadURI:      "ipfs://QmFake",
	}
}

func newTestAttester(t *testing.T) *Attester {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	a, err := NewAttester(common.Bytes2Hex(ethcrypto.FromECDSA(pk)), 137, testOracle)
	if err != nil {
		t.Fatalf("new attester: %v", err)
	}
	return a
}

func TestSignAndRecover(t *testing.T) {
	a := newTestAttester(t)
	sig := testSignal()

	att, err := a.Sign(sig)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(att) != 65 {
		t.Fatalf("signature length = %d, want 65", len(att))
	}

	got, err := RecoverSigner(137, testOracle, sig, att)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != a.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), a.Address().Hex())
	}
}

func TestRecoverRejectsTamperedFields(t *testing.T) {
	a := newTestAttester(t)
	sig := testSignal()

	att, err := a.Sign(sig)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tampered := sig
	tampered.SizeBps = 5000

	got, err := RecoverSigner(137, testOracle, tampered, att)
	if err == nil && got == a.Address() {
		t.Fatal("tampered signal recovered to the original attester")
	}
}

func TestRecoverRejectsOtherDomain(t *testing.T) {
	a := newTestAttester(t)
	sig := testSignal()

	att, err := a.Sign(sig)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Same signal, different chain: must not recover to the attester.
	got, err := RecoverSigner(1, testOracle, sig, att)
	if err == nil && got == a.Address() {
		t.Fatal("attestation replayed across chains")
	}

	// Different oracle instance.
	other := common.HexToAddress("0x00000000000000000000000000000000000000A2")
	got, err = RecoverSigner(137, other, sig, att)
	if err == nil && got == a.Address() {
		t.Fatal("attestation replayed across oracle instances")
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	sig := testSignal()

	if _, err := RecoverSigner(137, testOracle, sig, []byte{0x01, 0x02}); err == nil {
		t.Error("short signature accepted")
	}

	bad := make([]byte, 65)
	bad[64] = 5 // invalid recovery id
	if _, err := RecoverSigner(137, testOracle, sig, bad); err == nil {
		t.Error("invalid recovery id accepted")
	}
}

func TestSignalIDDeterministic(t *testing.T) {
	s1 := testSignal()
	s2 := testSignal()

	if SignalID(137, testOracle, s1) != SignalID(137, testOracle, s2) {
		t.Error("identical signals produced different ids")
	}

	s2.Nonce = common.BytesToHash([]byte("n2"))
	if SignalID(137, testOracle, s1) == SignalID(137, testOracle, s2) {
		t.Error("distinct signals produced the same id")
	}

	if SignalID(137, testOracle, s1) == SignalID(1, testOracle, s1) {
		t.Error("same id across chains")
	}
}

func TestDomainSeparatorStable(t *testing.T) {
	a := DomainSeparator(137, testOracle)
	b := DomainSeparator(137, testOracle)
	if !bytes.Equal(a, b) {
		t.Error("domain separator not deterministic")
	}
	if bytes.Equal(a, DomainSeparator(80002, testOracle)) {
		t.Error("domain separator ignores chain id")
	}
}
