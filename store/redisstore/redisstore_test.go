package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These tests exercise a real Redis instance, matching the retrieval
// pack's own persistence tests; they require localhost:6379 to be
// reachable.
func TestStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, s *Store){
		"mark dispatched is one-shot within ttl": testMarkDispatchedOnce,
		"save and load a response":               testSaveGetResponse,
		"events append in order":                 testAppendEvents,
		"forget clears the event trail":           testForget,
	} {
		t.Run(scenario, func(t *testing.T) {
			s := New(Config{Addrs: []string{"localhost:6379"}, Namespace: "txorchestrator_test"})
			fn(t, s)
		})
	}
}

func testMarkDispatchedOnce(t *testing.T, s *Store) {
	ctx := context.Background()
	first, err := s.MarkDispatched(ctx, "tx-1:step:invoke", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.MarkDispatched(ctx, "tx-1:step:invoke", time.Minute)
	require.NoError(t, err)
	require.False(t, second)
}

func testSaveGetResponse(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveResponse(ctx, "tx-2:step:invoke", []byte(`{"abc":1234}`), time.Minute))

	got, err := s.GetResponse(ctx, "tx-2:step:invoke")
	require.NoError(t, err)
	require.JSONEq(t, `{"abc":1234}`, string(got))
}

func testAppendEvents(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, "tx-3", "begin"))
	require.NoError(t, s.AppendEvent(ctx, "tx-3", "stepBegin"))
	require.NoError(t, s.AppendEvent(ctx, "tx-3", "finish"))

	events, err := s.Events(ctx, "tx-3")
	require.NoError(t, err)
	require.Equal(t, []string{"begin", "stepBegin", "finish"}, events)
}

func testForget(t *testing.T, s *Store) {
	ctx := context.Background()
	require.NoError(t, s.AppendEvent(ctx, "tx-4", "begin"))
	require.NoError(t, s.Forget(ctx, "tx-4"))

	events, err := s.Events(ctx, "tx-4")
	require.NoError(t, err)
	require.Empty(t, events)
}
