package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tgcapital/signalvault/internal/asset"
	"github.com/tgcapital/signalvault/internal/crypto"
	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/executor"
	"github.com/tgcapital/signalvault/internal/oracle"
	"github.com/tgcapital/signalvault/internal/registry"
	"github.com/tgcapital/signalvault/internal/router"
	"github.com/tgcapital/signalvault/internal/vault"
)

const chainID = int64(137)

var (
	instance   = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000E1")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000E2")
	admin      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	poster     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	keeper     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	depositor  = common.HexToAddress("0x0000000000000000000000000000000000000aa1")
	usdAddr    = common.HexToAddress("0x00000000000000000000000000000000000000D1")
	wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000D2")
)

// api is an in-process server over a fully wired core, routed exactly as the
// production mux is.
type api struct {
	mux      *http.ServeMux
	oracle   *oracle.Oracle
	vault    *vault.Vault
	usd      *asset.MemToken
	weth     *asset.MemToken
	router   *router.StaticRouter
	attester *crypto.Attester
}

func newAPI(t *testing.T) *api {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.New(admin, nil, nil, logger)
	if err := reg.Grant(ctx, admin, poster, domain.CapPostSignal); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := reg.Grant(ctx, admin, keeper, domain.CapExecute); err != nil {
		t.Fatalf("grant: %v", err)
	}

	usd := asset.NewMemToken("USDX")
	weth := asset.NewMemToken("WETH")
	rt := router.NewStatic(routerAddr)
	rt.RegisterToken(usdAddr, usd)
	rt.RegisterToken(wethAddr, weth)

	v := vault.New(vault.Config{
		Name:       "TG Vault",
		Symbol:     "TGV",
		Address:    vaultAddr,
		Underlying: usdAddr,
		Token:      usd,
		Registry:   reg,
		Router:     rt,
	}, logger)

	o := oracle.New(oracle.Config{
		StrategyVersion:  1,
		MinConfidenceBps: 500,
		ExpiryWindow:     time.Hour,
	}, chainID, instance, reg, oracle.Options{}, logger)

	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	att, err := crypto.NewAttester(common.Bytes2Hex(ethcrypto.FromECDSA(pk)), chainID, instance)
	if err != nil {
		t.Fatalf("new attester: %v", err)
	}
	if err := o.AddSigner(ctx, admin, att.Address()); err != nil {
		t.Fatalf("add signer: %v", err)
	}

	coord := executor.New(o, v, reg, executor.Options{}, logger)

	hh := NewHealthHandler(time.Now().Add(-time.Second), logger)
	sh := NewSignalHandler(o, logger)
	vh := NewVaultHandler(v, logger)
	eh := NewExecuteHandler(coord, nil, logger)
	ah := NewAdminHandler(reg, o, v, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", hh.HealthCheck)
	mux.HandleFunc("POST /api/signals", sh.PostSignal)
	mux.HandleFunc("GET /api/signals/{id}", sh.GetSignal)
	mux.HandleFunc("GET /api/vault/status", vh.GetStatus)
	mux.HandleFunc("GET /api/vault/shares/{owner}", vh.GetShares)
	mux.HandleFunc("POST /api/vault/deposit", vh.Deposit)
	mux.HandleFunc("POST /api/vault/redeem", vh.Redeem)
	mux.HandleFunc("POST /api/execute", eh.Execute)
	mux.HandleFunc("GET /api/executions", eh.ListRecent)
	mux.HandleFunc("POST /api/admin/capabilities", ah.GrantCapability)
	mux.HandleFunc("GET /api/admin/capabilities/{identity}", ah.ListCapabilities)
	mux.HandleFunc("POST /api/admin/pause", ah.SetPaused)

	return &api{
		mux:      mux,
		oracle:   o,
		vault:    v,
		usd:      usd,
		weth:     weth,
		router:   rt,
		attester: att,
	}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (a *api) signalBody(t *testing.T, nonce string) map[string]any {
	t.Helper()
	s := domain.Signal{
		Base:            wethAddr,
		Quote:           usdAddr,
		Side:            domain.SideBuyBase,
		SizeBps:         1000,
		PriceRef:        big.NewInt(2000),
		ConfidenceBps:   800,
		StrategyVersion: 1,
		Deadline:        uint64(time.Now().Add(30 * time.Minute).Unix()),
		Nonce:           common.BytesToHash([]byte(nonce)),
		PayloadURI:      "ipfs://QmFake",
	}
	att, err := a.attester.Sign(s)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return map[string]any{
		"poster":           poster.Hex(),
		"base":             s.Base.Hex(),
		"quote":            s.Quote.Hex(),
		"side":             uint8(s.Side),
		"size_bps":         s.SizeBps,
		"price_ref":        s.PriceRef.String(),
		"confidence_bps":   s.ConfidenceBps,
		"strategy_version": s.StrategyVersion,
		"deadline":         s.Deadline,
		"nonce":            s.Nonce.Hex(),
		"payload_uri":      s.PayloadURI,
		"attestation":      "0x" + hex.EncodeToString(att),
	}
}

func (a *api) fund(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()
	a.usd.Mint(depositor, big.NewInt(amount))
	if err := a.usd.Approve(ctx, depositor, vaultAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestPostAndGetSignal(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/api/signals", a.signalBody(t, "n1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("post status = %d, body %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["signal_id"].(string)
	if len(id) != 66 {
		t.Fatalf("signal_id = %q, want 32-byte hex", id)
	}

	rec = a.do(t, http.MethodGet, "/api/signals/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["signal_id"] != id {
		t.Errorf("signal_id = %v, want %s", body["signal_id"], id)
	}
	if body["side"] != "buy_base" {
		t.Errorf("side = %v, want buy_base", body["side"])
	}
	if body["signer"] != a.attester.Address().Hex() {
		t.Errorf("signer = %v, want %s", body["signer"], a.attester.Address().Hex())
	}
	if body["expired"] != false {
		t.Error("fresh signal reported expired")
	}
}

func TestPostSignalUnauthorized(t *testing.T) {
	a := newAPI(t)

	body := a.signalBody(t, "n1")
	body["poster"] = depositor.Hex()
	rec := a.do(t, http.MethodPost, "/api/signals", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if reason := decode(t, rec)["reason"]; reason != "unauthorized-caller" {
		t.Errorf("reason = %v, want unauthorized-caller", reason)
	}
}

func TestPostSignalReplayConflict(t *testing.T) {
	a := newAPI(t)

	body := a.signalBody(t, "dup")
	if rec := a.do(t, http.MethodPost, "/api/signals", body); rec.Code != http.StatusCreated {
		t.Fatalf("first post status = %d", rec.Code)
	}
	rec := a.do(t, http.MethodPost, "/api/signals", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", rec.Code)
	}
	if reason := decode(t, rec)["reason"]; reason != "nonce-reuse" {
		t.Errorf("reason = %v, want nonce-reuse", reason)
	}
}

func TestGetSignalNotFound(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/api/signals/0xdead", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPostSignalBadBody(t *testing.T) {
	a := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/signals", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDepositRedeemFlow(t *testing.T) {
	a := newAPI(t)
	a.fund(t, 1_000_000)

	rec := a.do(t, http.MethodPost, "/api/vault/deposit", map[string]any{
		"depositor": depositor.Hex(),
		"assets":    "250000",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	if shares := decode(t, rec)["shares"]; shares != "250000" {
		t.Errorf("minted shares = %v, want 250000", shares)
	}

	rec = a.do(t, http.MethodGet, "/api/vault/shares/"+depositor.Hex(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shares status = %d", rec.Code)
	}
	if got := decode(t, rec)["shares"]; got != "250000" {
		t.Errorf("shares = %v, want 250000", got)
	}

	rec = a.do(t, http.MethodPost, "/api/vault/redeem", map[string]any{
		"caller": depositor.Hex(),
		"shares": "100000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status = %d, body %s", rec.Code, rec.Body.String())
	}
	if assets := decode(t, rec)["assets"]; assets != "100000" {
		t.Errorf("redeemed assets = %v, want 100000", assets)
	}
}

func TestDepositWithoutAllowance(t *testing.T) {
	a := newAPI(t)
	a.usd.Mint(depositor, big.NewInt(1000))

	rec := a.do(t, http.MethodPost, "/api/vault/deposit", map[string]any{
		"depositor": depositor.Hex(),
		"assets":    "1000",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
	}
}

func TestVaultStatusEndpoint(t *testing.T) {
	a := newAPI(t)
	a.fund(t, 5000)
	if rec := a.do(t, http.MethodPost, "/api/vault/deposit", map[string]any{
		"depositor": depositor.Hex(), "assets": "5000",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	rec := a.do(t, http.MethodGet, "/api/vault/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["total_assets"] != "5000" {
		t.Errorf("total_assets = %v, want 5000", body["total_assets"])
	}
	if body["symbol"] != "TGV" {
		t.Errorf("symbol = %v, want TGV", body["symbol"])
	}
	if body["paused"] != false {
		t.Error("fresh vault reported paused")
	}
}

func TestExecuteEndpoint(t *testing.T) {
	a := newAPI(t)
	a.fund(t, 1_000_000)
	if rec := a.do(t, http.MethodPost, "/api/vault/deposit", map[string]any{
		"depositor": depositor.Hex(), "assets": "1000000",
	}); rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	a.weth.Mint(routerAddr, big.NewInt(1000))
	a.router.SetSwapResult(usdAddr, wethAddr, big.NewInt(50))

	rec := a.do(t, http.MethodPost, "/api/signals", a.signalBody(t, "exec1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("post status = %d", rec.Code)
	}
	id, _ := decode(t, rec)["signal_id"].(string)

	execBody := map[string]any{"keeper": keeper.Hex(), "signal_id": id}
	rec = a.do(t, http.MethodPost, "/api/execute", execBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("execute status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["amount_in"] != "100000" {
		t.Errorf("amount_in = %v, want 100000", body["amount_in"])
	}
	if body["amount_out"] != "50" {
		t.Errorf("amount_out = %v, want 50", body["amount_out"])
	}

	// Execute-once: a second trigger for the same signal conflicts.
	rec = a.do(t, http.MethodPost, "/api/execute", execBody)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat status = %d, want 409", rec.Code)
	}
	if reason := decode(t, rec)["reason"]; reason != "already-executed" {
		t.Errorf("reason = %v, want already-executed", reason)
	}
}

func TestExecuteUnknownKeeper(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/api/execute", map[string]any{
		"keeper":    depositor.Hex(),
		"signal_id": common.BytesToHash([]byte("x")).Hex(),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestListRecentWithoutStore(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/api/executions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d executions, want 0", len(out))
	}
}

func TestAdminGrantAndList(t *testing.T) {
	a := newAPI(t)
	newKeeper := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	rec := a.do(t, http.MethodPost, "/api/admin/capabilities", map[string]any{
		"caller":     admin.Hex(),
		"identity":   newKeeper.Hex(),
		"capability": string(domain.CapExecute),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodGet, "/api/admin/capabilities/"+newKeeper.Hex(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	caps := fmt.Sprint(decode(t, rec)["capabilities"])
	if caps != fmt.Sprint([]any{string(domain.CapExecute)}) {
		t.Errorf("capabilities = %s", caps)
	}
}

func TestAdminGrantNotAdmin(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodPost, "/api/admin/capabilities", map[string]any{
		"caller":     depositor.Hex(),
		"identity":   depositor.Hex(),
		"capability": string(domain.CapExecute),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminPauseBlocksDeposit(t *testing.T) {
	a := newAPI(t)
	a.fund(t, 1000)

	rec := a.do(t, http.MethodPost, "/api/admin/pause", map[string]any{
		"caller": admin.Hex(),
		"paused": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodPost, "/api/vault/deposit", map[string]any{
		"depositor": depositor.Hex(),
		"assets":    "1000",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("deposit status = %d, want 409", rec.Code)
	}
	if reason := decode(t, rec)["reason"]; reason != "vault-paused" {
		t.Errorf("reason = %v, want vault-paused", reason)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["service"] != "vaultd" {
		t.Errorf("service = %v, want vaultd", body["service"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("uptime_seconds missing")
	}
}
