package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowforge/txorchestrator/internal/logger"
	"github.com/flowforge/txorchestrator/orchestrator"
	"github.com/flowforge/txorchestrator/store/memstore"
	"github.com/flowforge/txorchestrator/store/redisstore"
	"github.com/flowforge/txorchestrator/transport/httpcallback"
)

func newServeCmd(cfg *config) *cobra.Command {
	var flowName string

	cmd := &cobra.Command{
		Use:   "serve <flow.json>",
		Short: "Serve a flow's start and callback endpoints over HTTP, backed by the configured storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			orch, err := orchestrator.New(flowName, def)
			if err != nil {
				return err
			}

			ttl := time.Duration(cfg.TransactionTTL) * time.Second
			txs := memstore.New(ttl, time.Minute)
			orch.On(orchestrator.EventBegin, func(tx *orchestrator.Transaction) { txs.Put(tx.ID, tx) })
			orch.On(orchestrator.EventFinish, func(tx *orchestrator.Transaction) { txs.Delete(tx.ID) })

			if cfg.StorageType == StorageTypeRedis {
				audit := redisstore.New(redisstore.Config{Addrs: cfg.RedisAddrs, Namespace: cfg.Namespace})
				wireAuditTrail(orch, audit)
			}

			handler := func(_ context.Context, action string, handlerType orchestrator.HandlerType, payload orchestrator.Payload) (map[string]any, error) {
				logger.Info("dispatch", zap.String("action", action), zap.String("type", string(handlerType)),
					zap.String("dispatchId", payload.Metadata.DispatchID), zap.Int("attempt", payload.Metadata.Attempt))
				return map[string]any{}, nil
			}

			router := mux.NewRouter()
			httpcallback.NewHandler(orch, txs).Register(router, "/callback")
			router.HandleFunc("/transactions", startTransactionHandler(orch, handler)).Methods(http.MethodPost)

			addr := fmt.Sprintf(":%d", cfg.HTTPPort)
			logger.Info("flowctl serve listening", zap.String("addr", addr), zap.String("flow", flowName), zap.String("storage", string(cfg.StorageType)))
			return http.ListenAndServe(addr, router)
		},
	}
	cmd.Flags().StringVar(&flowName, "flow-name", "flowctl-serve", "producer name reported in dispatch metadata")
	return cmd
}

func startTransactionHandler(orch *orchestrator.Orchestrator, handler orchestrator.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IdempotencyKey string         `json:"idempotencyKey"`
			Payload        map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		tx := orch.BeginTransaction(body.IdempotencyKey, handler, body.Payload)
		if err := orch.Resume(r.Context(), tx); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"transactionId": tx.ID,
			"status":        tx.Status,
		})
	}
}

// wireAuditTrail appends every lifecycle event to store, giving a redis-
// backed serve process a durable trail that survives past what memstore
// keeps in process memory.
func wireAuditTrail(orch *orchestrator.Orchestrator, store *redisstore.Store) {
	events := []orchestrator.Event{
		orchestrator.EventBegin, orchestrator.EventResume, orchestrator.EventStepBegin, orchestrator.EventStepSuccess,
		orchestrator.EventStepFailure, orchestrator.EventCompensateBegin, orchestrator.EventReverted,
		orchestrator.EventFailed, orchestrator.EventFinish,
	}
	for _, e := range events {
		event := string(e)
		orch.On(e, func(tx *orchestrator.Transaction) {
			if err := store.AppendEvent(context.Background(), tx.ID, event); err != nil {
				logger.Error("audit append failed", zap.String("event", event), zap.Error(err))
			}
		})
	}
}
