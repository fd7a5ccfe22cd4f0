package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_OwnerIsDeterministic(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(71))
	r.Join("worker-a")
	r.Join("worker-b")
	r.Join("worker-c")

	first, err := r.Owner("tx-idempotency-key-1")
	require.NoError(t, err)

	second, err := r.Owner("tx-idempotency-key-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRouter_NoMembers(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(71))
	_, err := r.Owner("tx-1")
	assert.ErrorIs(t, err, ErrNoMembers)
}

func TestRouter_LeaveRedistributes(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(71))
	r.Join("worker-a")
	r.Join("worker-b")

	before, err := r.Owner("tx-idempotency-key-2")
	require.NoError(t, err)

	r.Leave(before)

	after, err := r.Owner("tx-idempotency-key-2")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestRouter_OwnedPartitionsCoverRing(t *testing.T) {
	r := NewRouter(DefaultRouterConfig(64))
	r.Join("worker-a")
	r.Join("worker-b")

	a := r.OwnedPartitions("worker-a")
	b := r.OwnedPartitions("worker-b")

	assert.Equal(t, 64, len(a)+len(b))
}
