// Package shard routes a transaction's idempotency key to an owning worker
// via consistent hashing, so a fleet of orchestrator processes can shard
// transactions without a central coordinator and without mass
// reassignment when membership changes.
package shard

import (
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/spaolacci/murmur3"

	"github.com/flowforge/txorchestrator/internal/logger"
	"go.uber.org/zap"
)

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

// Member is one worker eligible to own transaction partitions.
type Member string

func (m Member) String() string { return string(m) }

// RouterConfig controls the underlying consistent-hash ring.
type RouterConfig struct {
	// PartitionCount should be a power of two comfortably larger than the
	// expected member count.
	PartitionCount int
	// ReplicationFactor controls how many times each member is placed on
	// the ring; higher values smooth load distribution at the cost of
	// more bookkeeping.
	ReplicationFactor int
	// Load bounds how far any one member's partition count may exceed the
	// perfectly-even average before the ring rebalances onto another
	// member.
	Load float64
}

// DefaultRouterConfig mirrors the retrieval pack's own cluster ring
// defaults.
func DefaultRouterConfig(partitionCount int) RouterConfig {
	return RouterConfig{
		PartitionCount:    partitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
	}
}

// Router assigns idempotency keys to owning members via consistent
// hashing. It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	ring   *consistent.Consistent
	config RouterConfig
}

// NewRouter builds a Router with no members; call Join to add them.
func NewRouter(cfg RouterConfig) *Router {
	var members []consistent.Member
	c := consistent.Config{
		PartitionCount:    cfg.PartitionCount,
		ReplicationFactor: cfg.ReplicationFactor,
		Load:              cfg.Load,
		Hasher:            hasher{},
	}
	return &Router{
		ring:   consistent.New(members, c),
		config: cfg,
	}
}

// Join adds a member to the ring. Adding an already-present member is a
// no-op.
func (r *Router) Join(member Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logger.Info("shard router: member joined", zap.String("member", string(member)))
	r.ring.Add(member)
}

// Leave removes a member from the ring, causing its partitions to move to
// their next-closest surviving member.
func (r *Router) Leave(member Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logger.Info("shard router: member left", zap.String("member", string(member)))
	r.ring.Remove(string(member))
}

// Owner returns the member that owns idempotencyKey's partition.
func (r *Router) Owner(idempotencyKey string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner := r.ring.LocateKey([]byte(idempotencyKey))
	if owner == nil {
		return "", ErrNoMembers
	}
	return Member(owner.String()), nil
}

// PartitionOf returns the ring partition index idempotencyKey hashes to.
func (r *Router) PartitionOf(idempotencyKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ring.FindPartitionID([]byte(idempotencyKey))
}

// OwnedPartitions returns the partition indices currently owned by member.
func (r *Router) OwnedPartitions(member Member) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := make([]int, 0)
	for i := 0; i < r.config.PartitionCount; i++ {
		owner := r.ring.GetPartitionOwner(i)
		if owner != nil && owner.String() == string(member) {
			owned = append(owned, i)
		}
	}
	return owned
}

// ErrNoMembers is returned by Owner when the ring has no members joined.
var ErrNoMembers = routerError("shard: no members joined to router")

type routerError string

func (e routerError) Error() string { return string(e) }
