package main

// StorageType selects the storage "serve" wires up: with StorageTypeRedis it
// also appends lifecycle events to Redis. Transaction lookup always uses the
// in-memory store.
type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeRedis  StorageType = "redis"
)

type config struct {
	RedisAddrs     []string
	Namespace      string
	HTTPPort       int
	StorageType    StorageType
	TransactionTTL int // seconds
}
