package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/oracle"
)

// SignalHandler serves signal posting and retrieval.
type SignalHandler struct {
	oracle *oracle.Oracle
	logger *slog.Logger
}

func NewSignalHandler(o *oracle.Oracle, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{oracle: o, logger: logHandler(logger, "signals")}
}

// postSignalRequest is the wire form of PostSignal. Addresses and hashes
// are hex strings; amounts are decimal strings.
type postSignalRequest struct {
	Poster          string `json:"poster"`
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	Side            uint8  `json:"side"`
	SizeBps         uint32 `json:"size_bps"`
	PriceRef        string `json:"price_ref"`
	ConfidenceBps   uint32 `json:"confidence_bps"`
	StrategyVersion uint64 `json:"strategy_version"`
	Deadline        uint64 `json:"deadline"`
	Nonce           string `json:"nonce"`
	PayloadURI      string `json:"payload_uri"`
	Attestation     string `json:"attestation"` // hex, 65 bytes
}

// PostSignal validates and stores an attested signal.
// POST /api/signals
func (h *SignalHandler) PostSignal(w http.ResponseWriter, r *http.Request) {
	var req postSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	priceRef, ok := new(big.Int).SetString(req.PriceRef, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "price_ref must be a decimal integer")
		return
	}
	attestation, err := hex.DecodeString(strings.TrimPrefix(req.Attestation, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "attestation must be hex")
		return
	}

	s := domain.Signal{
		Base:            common.HexToAddress(req.Base),
		Quote:           common.HexToAddress(req.Quote),
		Side:            domain.Side(req.Side),
		SizeBps:         req.SizeBps,
		PriceRef:        priceRef,
		ConfidenceBps:   req.ConfidenceBps,
		StrategyVersion: req.StrategyVersion,
		Deadline:        req.Deadline,
		Nonce:           common.HexToHash(req.Nonce),
		PayloadURI:      req.PayloadURI,
	}

	id, err := h.oracle.PostSignal(r.Context(), common.HexToAddress(req.Poster), s, attestation)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"signal_id": id.Hex()})
}

// GetSignal returns a stored signal record by id.
// GET /api/signals/{id}
func (h *SignalHandler) GetSignal(w http.ResponseWriter, r *http.Request) {
	id := common.HexToHash(pathParam(r, "id"))

	rec, err := h.oracle.GetSignal(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signalRecordJSON(rec, h.oracle.IsExpired(rec)))
}

func signalRecordJSON(rec domain.SignalRecord, expired bool) map[string]any {
	return map[string]any{
		"signal_id":        rec.ID.Hex(),
		"base":             rec.Signal.Base.Hex(),
		"quote":            rec.Signal.Quote.Hex(),
		"side":             rec.Signal.Side.String(),
		"size_bps":         rec.Signal.SizeBps,
		"price_ref":        rec.Signal.PriceRef.String(),
		"confidence_bps":   rec.Signal.ConfidenceBps,
		"strategy_version": rec.Signal.StrategyVersion,
		"deadline":         rec.Signal.Deadline,
		"nonce":            rec.Signal.Nonce.Hex(),
		"payload_uri":      rec.Signal.PayloadURI,
		"attestation":      "0x" + hex.EncodeToString(rec.Attestation),
		"signer":           rec.Signer.Hex(),
		"poster":           rec.Poster.Hex(),
		"seq":              rec.Seq,
		"posted_at":        rec.PostedAt,
		"expired":          expired,
	}
}

// writeDomainError maps the error taxonomy onto HTTP status codes and a
// stable machine-readable reason.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.Kind(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuthorization:
		status = http.StatusForbidden
	case domain.KindState:
		status = http.StatusConflict
	case domain.KindEconomic:
		status = http.StatusUnprocessableEntity
	}
	if errors.Is(err, domain.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"reason": domain.Reason(err),
	})
}
