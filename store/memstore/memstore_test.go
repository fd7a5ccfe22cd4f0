package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/txorchestrator/flow"
	"github.com/flowforge/txorchestrator/orchestrator"
)

func newTestTransaction(t *testing.T) *orchestrator.Transaction {
	t.Helper()
	orch, err := orchestrator.New("orderFlow", &flow.Definition{
		Next: []*flow.StepDefinition{{Action: "firstMethod"}},
	})
	require.NoError(t, err)
	handler := func(context.Context, string, orchestrator.HandlerType, orchestrator.Payload) (map[string]any, error) {
		return nil, nil
	}
	return orch.BeginTransaction("tx-key", handler, nil)
}

func TestStore_PutGet(t *testing.T) {
	s := New(time.Minute, time.Minute)
	tx := newTestTransaction(t)

	s.Put("tx-key", tx)

	got, ok := s.Get("tx-key")
	require.True(t, ok)
	assert.Same(t, tx, got)
	assert.Equal(t, 1, s.Len())
}

func TestStore_GetMissing(t *testing.T) {
	s := New(time.Minute, time.Minute)
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	s := New(time.Minute, time.Minute)
	tx := newTestTransaction(t)
	s.Put("tx-key", tx)

	s.Delete("tx-key")

	_, ok := s.Get("tx-key")
	assert.False(t, ok)
}

func TestStore_ExpiresByTTL(t *testing.T) {
	s := New(20*time.Millisecond, 10*time.Millisecond)
	tx := newTestTransaction(t)
	s.Put("tx-key", tx)

	time.Sleep(100 * time.Millisecond)

	_, ok := s.Get("tx-key")
	assert.False(t, ok)
}
