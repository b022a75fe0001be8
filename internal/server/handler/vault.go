package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/vault"
)

// VaultHandler serves vault accounting operations.
type VaultHandler struct {
	vault  *vault.Vault
	logger *slog.Logger
}

func NewVaultHandler(v *vault.Vault, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: v, logger: logHandler(logger, "vault")}
}

// GetStatus returns the accounting snapshot.
// GET /api/vault/status
func (h *VaultHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.vault.Status()

	holdings := make(map[string]string, len(st.Holdings))
	for asset, amount := range st.Holdings {
		holdings[asset.Hex()] = amount.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           st.Name,
		"symbol":         st.Symbol,
		"underlying":     st.Underlying.Hex(),
		"total_assets":   st.TotalAssets.String(),
		"total_shares":   st.TotalShares.String(),
		"liquid_balance": st.LiquidBalance.String(),
		"deployed_value": st.DeployedValue.String(),
		"holdings":       holdings,
		"paused":         st.Paused,
		"fee_checkpoint": st.FeeCheckpoint,
	})
}

// GetShares returns the share balance for an owner.
// GET /api/vault/shares/{owner}
func (h *VaultHandler) GetShares(w http.ResponseWriter, r *http.Request) {
	owner := common.HexToAddress(pathParam(r, "owner"))
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  owner.Hex(),
		"shares": h.vault.SharesOf(owner).String(),
	})
}

type depositRequest struct {
	Depositor string `json:"depositor"`
	Assets    string `json:"assets"`
}

// Deposit pulls approved underlying from the depositor and mints shares.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	assets, ok := new(big.Int).SetString(req.Assets, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "assets must be a decimal integer")
		return
	}

	shares, err := h.vault.Deposit(r.Context(), common.HexToAddress(req.Depositor), assets)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"shares": shares.String()})
}

type redeemRequest struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"` // defaults to caller
	Shares string `json:"shares"`
}

// Redeem burns shares and pays out underlying.
// POST /api/vault/redeem
func (h *VaultHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	shares, ok := new(big.Int).SetString(req.Shares, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "shares must be a decimal integer")
		return
	}
	caller := common.HexToAddress(req.Caller)
	owner := caller
	if req.Owner != "" {
		owner = common.HexToAddress(req.Owner)
	}

	assets, err := h.vault.Redeem(r.Context(), caller, owner, shares)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assets": assets.String()})
}
