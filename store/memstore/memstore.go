// Package memstore is a process-local Transaction registry keyed by
// idempotency key, backed by a TTL cache so finished transactions are
// reclaimed without an explicit sweep.
package memstore

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/flowforge/txorchestrator/orchestrator"
)

// Store looks transactions up by idempotency key across separate Resume /
// RegisterStepSuccess / RegisterStepFailure calls, e.g. from an HTTP
// callback handler that only knows the key, not the *Transaction value.
type Store struct {
	cache *gocache.Cache
}

// New builds a Store whose entries expire ttl after their last write
// unless refreshed, with cleanupInterval controlling how often expired
// entries are purged.
func New(ttl, cleanupInterval time.Duration) *Store {
	return &Store{cache: gocache.New(ttl, cleanupInterval)}
}

// Put registers tx under idempotencyKey, resetting its expiry.
func (s *Store) Put(idempotencyKey string, tx *orchestrator.Transaction) {
	s.cache.Set(idempotencyKey, tx, gocache.DefaultExpiration)
}

// Get returns the transaction registered under idempotencyKey, if it
// hasn't expired.
func (s *Store) Get(idempotencyKey string) (*orchestrator.Transaction, bool) {
	v, ok := s.cache.Get(idempotencyKey)
	if !ok {
		return nil, false
	}
	tx, ok := v.(*orchestrator.Transaction)
	return tx, ok
}

// Delete removes idempotencyKey from the store. Callers typically do this
// from an orchestrator.EventFinish listener once a transaction is
// terminal, rather than waiting out the TTL.
func (s *Store) Delete(idempotencyKey string) {
	s.cache.Delete(idempotencyKey)
}

// Len reports how many transactions the store holds, including expired
// entries that the cleanup interval has not purged yet.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
