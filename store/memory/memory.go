// Package memory provides an in-memory store implementation.
//
// It is used in tests and as the degraded fallback when no persistent
// blob store is available from the host environment: cache contents are
// lost on exit but every operation keeps working.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/skymap-app/skycache/store"
)

// Store implements store.Store backed by process memory.
type Store struct {
	mu         sync.Mutex
	partitions map[string]*Partition
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{partitions: make(map[string]*Partition)}
}

// Open returns the named partition, creating it if needed.
func (s *Store) Open(name string) (store.Partition, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidPartition, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[name]
	if !ok {
		p = &Partition{entries: make(map[string][]byte)}
		s.partitions[name] = p
	}
	return p, nil
}

// ListPartitions returns the names of all partitions in sorted order.
func (s *Store) ListPartitions() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition removes a partition and all of its entries.
func (s *Store) DeletePartition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return fmt.Errorf("%w: %q", store.ErrPartitionNotFound, name)
	}
	delete(s.partitions, name)
	return nil
}

// Partition is a single in-memory keyspace.
type Partition struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// Put stores data under key, replacing any existing entry.
func (p *Partition) Put(key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	p.entries[key] = buf
	return nil
}

// Match retrieves the entry stored under key.
func (p *Partition) Match(key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.entries[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, true, nil
}

// Delete removes the entry stored under key, if any.
func (p *Partition) Delete(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, key)
	return nil
}

// Keys returns every key present in the partition in sorted order.
func (p *Partition) Keys() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns the number of entries and the total stored bytes.
func (p *Partition) Stats() (int, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var size int64
	for _, data := range p.entries {
		size += int64(len(data))
	}
	return len(p.entries), size, nil
}
