package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/oracle"
	"github.com/tgcapital/signalvault/internal/registry"
	"github.com/tgcapital/signalvault/internal/vault"
)

// AdminHandler serves capability management, pause control, and oracle
// configuration. Every operation is authorized against the registry by the
// caller address in the request body.
type AdminHandler struct {
	registry *registry.Registry
	oracle   *oracle.Oracle
	vault    *vault.Vault
	logger   *slog.Logger
}

func NewAdminHandler(reg *registry.Registry, o *oracle.Oracle, v *vault.Vault, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{registry: reg, oracle: o, vault: v, logger: logHandler(logger, "admin")}
}

type capabilityRequest struct {
	Caller     string `json:"caller"`
	Identity   string `json:"identity"`
	Capability string `json:"capability"`
}

// GrantCapability grants a capability to an identity.
// POST /api/admin/capabilities
func (h *AdminHandler) GrantCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := h.registry.Grant(r.Context(),
		common.HexToAddress(req.Caller),
		common.HexToAddress(req.Identity),
		domain.Capability(req.Capability),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// RevokeCapability revokes a capability from an identity.
// DELETE /api/admin/capabilities
func (h *AdminHandler) RevokeCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := h.registry.Revoke(r.Context(),
		common.HexToAddress(req.Caller),
		common.HexToAddress(req.Identity),
		domain.Capability(req.Capability),
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ListCapabilities returns the capabilities held by an identity.
// GET /api/admin/capabilities/{identity}
func (h *AdminHandler) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	identity := common.HexToAddress(pathParam(r, "identity"))
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":     identity.Hex(),
		"capabilities": h.registry.Capabilities(identity),
	})
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

// SetPaused pauses or unpauses the vault.
// POST /api/admin/pause
func (h *AdminHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := common.HexToAddress(req.Caller)
	var err error
	if req.Paused {
		err = h.vault.Pause(r.Context(), caller)
	} else {
		err = h.vault.Unpause(r.Context(), caller)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

type oracleConfigRequest struct {
	Caller           string  `json:"caller"`
	MinConfidenceBps *uint32 `json:"min_confidence_bps"`
	StrategyVersion  *uint64 `json:"strategy_version"`
	ExpiryWindowSec  *int64  `json:"expiry_window_sec"`
}

// UpdateOracleConfig applies the non-nil oracle settings in order.
// PUT /api/admin/oracle
func (h *AdminHandler) UpdateOracleConfig(w http.ResponseWriter, r *http.Request) {
	var req oracleConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	caller := common.HexToAddress(req.Caller)
	ctx := r.Context()

	if req.MinConfidenceBps != nil {
		if err := h.oracle.SetMinConfidence(ctx, caller, *req.MinConfidenceBps); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.StrategyVersion != nil {
		if err := h.oracle.SetStrategyVersion(ctx, caller, *req.StrategyVersion); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.ExpiryWindowSec != nil {
		if err := h.oracle.SetExpiryWindow(ctx, caller, secondsToDuration(*req.ExpiryWindowSec)); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	cfg := h.oracle.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"strategy_version":   cfg.StrategyVersion,
		"min_confidence_bps": cfg.MinConfidenceBps,
		"expiry_window_sec":  int64(cfg.ExpiryWindow.Seconds()),
	})
}

type signerRequest struct {
	Caller string `json:"caller"`
	Signer string `json:"signer"`
}

// AddSigner registers an attestation signer.
// POST /api/admin/signers
func (h *AdminHandler) AddSigner(w http.ResponseWriter, r *http.Request) {
	var req signerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := h.oracle.AddSigner(r.Context(), common.HexToAddress(req.Caller), common.HexToAddress(req.Signer))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveSigner deregisters an attestation signer.
// DELETE /api/admin/signers
func (h *AdminHandler) RemoveSigner(w http.ResponseWriter, r *http.Request) {
	var req signerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := h.oracle.RemoveSigner(r.Context(), common.HexToAddress(req.Caller), common.HexToAddress(req.Signer))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

type syncRequest struct {
	Caller string `json:"caller"`
}

// SyncHoldings reconciles tracked liquid balance with the token balance.
// POST /api/admin/sync
func (h *AdminHandler) SyncHoldings(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	delta, err := h.vault.SyncHoldings(r.Context(), common.HexToAddress(req.Caller))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"delta": delta.String()})
}
