// Package store defines the blob store abstraction used by the offline
// cache. A store holds named, isolated partitions; each partition maps
// URL-like string keys to opaque byte payloads.
//
// The store is the single source of truth for what is cached. Status
// queries are derived by listing keys, never from a separately
// persisted index.
package store

import "errors"

// Sentinel errors.
var (
	// ErrPartitionNotFound is returned when a named partition does not exist.
	ErrPartitionNotFound = errors.New("store: partition not found")

	// ErrInvalidPartition is returned when a partition name is empty or malformed.
	ErrInvalidPartition = errors.New("store: invalid partition name")
)

// Store provides access to named, isolated cache partitions.
type Store interface {
	// Open returns the partition with the given name, creating it if needed.
	Open(name string) (Partition, error)

	// ListPartitions returns the names of all existing partitions.
	ListPartitions() ([]string, error)

	// DeletePartition removes a partition and all of its entries.
	// Deleting a partition that does not exist returns
	// ErrPartitionNotFound.
	DeletePartition(name string) error
}

// Partition is an isolated keyspace within a store.
//
// Implementations must be safe for concurrent use.
type Partition interface {
	// Put stores data under key, replacing any existing entry.
	Put(key string, data []byte) error

	// Match retrieves the entry stored under key.
	// The second return value reports whether the key was present.
	Match(key string) ([]byte, bool, error)

	// Delete removes the entry stored under key, if any.
	Delete(key string) error

	// Keys returns every key present in the partition.
	Keys() ([]string, error)

	// Stats returns the number of entries and the total stored bytes.
	Stats() (entries int, size int64, err error)
}
