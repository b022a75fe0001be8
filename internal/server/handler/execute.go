package handler

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tgcapital/signalvault/internal/domain"
	"github.com/tgcapital/signalvault/internal/executor"
)

// ExecuteHandler serves execution triggers and history.
type ExecuteHandler struct {
	coord  *executor.Coordinator
	execs  domain.ExecutionStore // optional
	logger *slog.Logger
}

func NewExecuteHandler(c *executor.Coordinator, execs domain.ExecutionStore, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{coord: c, execs: execs, logger: logHandler(logger, "execute")}
}

type executeRequest struct {
	Keeper         string `json:"keeper"`
	SignalID       string `json:"signal_id"`
	MaxSlippageBps uint32 `json:"max_slippage_bps"`
	MinOut         string `json:"min_out"`    // optional decimal
	Deadline       uint64 `json:"deadline"`   // optional unix seconds
	RouteData      string `json:"route_data"` // optional hex
}

// Execute runs the pipeline for a posted signal.
// POST /api/execute
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	intent := domain.TradeIntent{
		SignalID:       common.HexToHash(req.SignalID),
		MaxSlippageBps: req.MaxSlippageBps,
		Deadline:       req.Deadline,
	}
	if req.MinOut != "" {
		minOut, ok := new(big.Int).SetString(req.MinOut, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "min_out must be a decimal integer")
			return
		}
		intent.MinOut = minOut
	}
	if req.RouteData != "" {
		data, err := hex.DecodeString(strings.TrimPrefix(req.RouteData, "0x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "route_data must be hex")
			return
		}
		intent.RouteData = data
	}

	exec, err := h.coord.Execute(r.Context(), common.HexToAddress(req.Keeper), intent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, executionJSON(exec))
}

// ListRecent returns recent executions, newest first.
// GET /api/executions
func (h *ExecuteHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.execs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	opts := parseListOpts(r)
	execs, err := h.execs.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionJSON(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func executionJSON(e domain.TradeExecution) map[string]any {
	return map[string]any{
		"execution_id": e.ID,
		"signal_id":    e.SignalID.Hex(),
		"asset_in":     e.AssetIn.Hex(),
		"asset_out":    e.AssetOut.Hex(),
		"amount_in":    e.AmountIn.String(),
		"amount_out":   e.AmountOut.String(),
		"keeper":       e.Keeper.Hex(),
		"executed_at":  e.ExecutedAt,
	}
}
