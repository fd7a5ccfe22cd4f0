package httpcallback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/txorchestrator/flow"
	"github.com/flowforge/txorchestrator/orchestrator"
	"github.com/flowforge/txorchestrator/store/memstore"
)

func newTestHandler(t *testing.T) (*Handler, *orchestrator.Transaction) {
	t.Helper()
	orch, err := orchestrator.New("orderFlow", &flow.Definition{
		Next: []*flow.StepDefinition{
			{Action: "firstMethod", Async: true, MaxRetries: flow.Retries(0)},
		},
	})
	require.NoError(t, err)

	handle := func(context.Context, string, orchestrator.HandlerType, orchestrator.Payload) (map[string]any, error) {
		return nil, nil
	}
	tx := orch.BeginTransaction("tx-callback", handle, nil)
	require.NoError(t, orch.Resume(context.Background(), tx))

	txs := memstore.New(time.Minute, time.Minute)
	txs.Put(tx.ID, tx)

	return NewHandler(orch, txs), tx
}

func postCallback(h *Handler, body string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	h.Register(router, "/callback")

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestServeHTTP_SuccessPath(t *testing.T) {
	h, tx := newTestHandler(t)
	subKey := orchestrator.GetKeyName(tx.ID, "firstMethod", orchestrator.HandlerInvoke)

	body := `{"transactionId":"tx-callback","subKey":"` + subKey + `","success":true,"data":{"amount":42}}`
	rr := postCallback(h, body)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	status, ok := tx.NodeStatus("firstMethod")
	require.True(t, ok)
	assert.Equal(t, orchestrator.NodeInvokedOK, status.State)
	assert.Equal(t, map[string]any{"amount": float64(42)}, status.LastResponse)
}

func TestServeHTTP_FailurePath(t *testing.T) {
	h, tx := newTestHandler(t)
	subKey := orchestrator.GetKeyName(tx.ID, "firstMethod", orchestrator.HandlerInvoke)

	body := `{"transactionId":"tx-callback","subKey":"` + subKey + `","success":false,"error":"downstream rejected"}`
	rr := postCallback(h, body)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, orchestrator.StatusCompensating, tx.Status)
}

func TestServeHTTP_MissingKey(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := postCallback(h, `{"success":true}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeHTTP_UnknownTransaction(t *testing.T) {
	h, _ := newTestHandler(t)

	body := `{"transactionId":"no-such-tx","subKey":"no-such-tx:firstMethod:invoke","success":true}`
	rr := postCallback(h, body)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeHTTP_NonMapResponseIsRejected(t *testing.T) {
	h, tx := newTestHandler(t)
	subKey := orchestrator.GetKeyName(tx.ID, "firstMethod", orchestrator.HandlerInvoke)

	body := `{"transactionId":"tx-callback","subKey":"` + subKey + `","success":true,"data":"not-an-object"}`
	rr := postCallback(h, body)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	status, ok := tx.NodeStatus("firstMethod")
	require.True(t, ok)
	assert.Equal(t, orchestrator.NodeInvoking, status.State, "rejected callback must not resolve the step")
}
