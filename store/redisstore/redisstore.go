// Package redisstore is a durable idempotency and event log for the
// orchestrator (dispatch bookkeeping, saved responses, and the event
// trail), keyed by namespace. It does not persist Transaction objects.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	rd "github.com/go-redis/redis/v9"
)

// Config mirrors the connection shape the retrieval pack's Redis DAOs take:
// a set of addresses (single node or cluster) plus a namespace prefix.
type Config struct {
	Addrs     []string
	Namespace string
}

// Store is a namespaced Redis-backed idempotency and event log.
type Store struct {
	client    rd.UniversalClient
	namespace string
}

// New builds a Redis client per conf. It does not verify connectivity; a
// connection problem surfaces as the error of the first Store call.
func New(conf Config) *Store {
	client := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs: conf.Addrs,
	})
	return &Store{client: client, namespace: conf.Namespace}
}

func (s *Store) key(parts ...string) string {
	return fmt.Sprintf("%s:%s", s.namespace, strings.Join(parts, ":"))
}

// MarkDispatched records the first dispatch of subKey, returning true only
// the first time it's called for that key within ttl.
func (s *Store) MarkDispatched(ctx context.Context, subKey string, ttl time.Duration) (firstTime bool, err error) {
	return s.client.SetNX(ctx, s.key("dispatched", subKey), 1, ttl).Result()
}

// SaveResponse persists a step's raw response under its sub-key.
func (s *Store) SaveResponse(ctx context.Context, subKey string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key("response", subKey), response, ttl).Err()
}

func (s *Store) GetResponse(ctx context.Context, subKey string) ([]byte, error) {
	return s.client.Get(ctx, s.key("response", subKey)).Bytes()
}

// AppendEvent appends one durable event record, the persisted counterpart
// of the orchestrator's in-process Listener notifications.
func (s *Store) AppendEvent(ctx context.Context, idempotencyKey, event string) error {
	return s.client.RPush(ctx, s.key("events", idempotencyKey), event).Err()
}

// Events returns the full event trail recorded for idempotencyKey, oldest first.
func (s *Store) Events(ctx context.Context, idempotencyKey string) ([]string, error) {
	return s.client.LRange(ctx, s.key("events", idempotencyKey), 0, -1).Result()
}

// Forget removes the event trail kept for idempotencyKey. Dispatch marks
// and saved responses stored under its sub-keys are not removed; they
// expire by their own ttl.
func (s *Store) Forget(ctx context.Context, idempotencyKey string) error {
	return s.client.Del(ctx, s.key("events", idempotencyKey)).Err()
}
