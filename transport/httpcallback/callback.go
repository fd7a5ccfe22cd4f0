// Package httpcallback adapts inbound HTTP webhooks into orchestrator
// completion calls, for async steps whose handler hands work off to a
// remote system that reports back over HTTP rather than by blocking a Go
// call.
package httpcallback

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flowforge/txorchestrator/internal/logger"
	"github.com/flowforge/txorchestrator/orchestrator"
	"github.com/flowforge/txorchestrator/respath"
	"go.uber.org/zap"
)

// TransactionLookup resolves the idempotency key carried in a callback body
// to the live Transaction it should resolve. store/memstore.Store satisfies
// this.
type TransactionLookup interface {
	Get(idempotencyKey string) (*orchestrator.Transaction, bool)
}

// Handler drives async step completion from inbound webhook calls.
type Handler struct {
	orch *orchestrator.Orchestrator
	txs  TransactionLookup

	// TransactionKeyPath and SubKeyPath are JSONPath expressions
	// evaluated against the callback body to recover the transaction's
	// idempotency key and the dispatch sub-key being resolved.
	TransactionKeyPath string
	SubKeyPath         string
	// SuccessPath, if set, is evaluated to decide success vs failure;
	// its absence is treated as success.
	SuccessPath string
	// ResponsePath selects the sub-object handed to RegisterStepSuccess.
	ResponsePath string
}

// NewHandler builds a Handler dispatching completions against orch,
// resolving transactions through txs.
func NewHandler(orch *orchestrator.Orchestrator, txs TransactionLookup) *Handler {
	return &Handler{
		orch:               orch,
		txs:                txs,
		TransactionKeyPath: "$.transactionId",
		SubKeyPath:         "$.subKey",
		SuccessPath:        "$.success",
		ResponsePath:       "$.data",
	}
}

// Register mounts the callback endpoint on router.
func (h *Handler) Register(router *mux.Router, path string) {
	router.HandleFunc(path, h.serveHTTP).Methods(http.MethodPost)
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid callback body", http.StatusBadRequest)
		return
	}

	txKey, err := respath.LookupString(body, h.TransactionKeyPath)
	if err != nil {
		http.Error(w, "missing transaction key", http.StatusBadRequest)
		return
	}
	subKey, err := respath.LookupString(body, h.SubKeyPath)
	if err != nil {
		http.Error(w, "missing sub key", http.StatusBadRequest)
		return
	}

	tx, ok := h.txs.Get(txKey)
	if !ok {
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	if h.isSuccess(body) {
		var responseMap map[string]any
		if v, err := respath.Lookup(body, h.ResponsePath); err == nil {
			m, ok := v.(map[string]any)
			if !ok {
				http.Error(w, "callback response is not an object", http.StatusBadRequest)
				return
			}
			responseMap = m
		}
		if err := h.orch.RegisterStepSuccess(ctx, tx, subKey, responseMap); err != nil {
			h.writeError(w, err)
			return
		}
	} else {
		if err := h.orch.RegisterStepFailure(ctx, tx, subKey, callbackFailure{body: body}); err != nil {
			h.writeError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) isSuccess(body map[string]any) bool {
	v, err := respath.Lookup(body, h.SuccessPath)
	if err != nil {
		return true
	}
	success, ok := v.(bool)
	return !ok || success
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case orchestrator.InvalidResumeStateError, orchestrator.UnknownKeyError:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Error("callback dispatch failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// callbackFailure wraps the raw callback body as the failure reason passed
// to RegisterStepFailure.
type callbackFailure struct {
	body map[string]any
}

func (e callbackFailure) Error() string {
	msg, _ := respath.LookupString(e.body, "$.error")
	if msg == "" {
		msg = "step reported failure via callback"
	}
	return msg
}
