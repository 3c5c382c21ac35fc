// Package disk provides a filesystem-backed store implementation.
//
// Each partition is a directory under the store root. Keys are URL-like
// strings, so entries are stored under a sha256 digest of the key with a
// sidecar file holding the original key for enumeration. Writes go
// through a temp file and rename so readers never observe partial
// payloads.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/skymap-app/skycache/store"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700

	dataExt = ".bin"
	keyExt  = ".key"
)

// Store implements store.Store on the local filesystem.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode

	mu         sync.Mutex
	partitions map[string]*Partition
}

// Option configures a disk store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding
// entry files inside a partition. Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for store directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a disk-backed store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		partitions:     make(map[string]*Partition),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

// Open returns the named partition, creating its directory if needed.
func (s *Store) Open(name string) (store.Partition, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p, nil
	}

	dir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	p := &Partition{
		dir:            dir,
		shardPrefixLen: s.shardPrefixLen,
		dirPerm:        s.dirPerm,
	}
	s.partitions[name] = p
	return p, nil
}

// ListPartitions returns the names of all partition directories.
func (s *Store) ListPartitions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// DeletePartition removes a partition directory and all of its entries.
func (s *Store) DeletePartition(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.partitions, name)
	s.mu.Unlock()

	dir := filepath.Join(s.dir, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", store.ErrPartitionNotFound, name)
	}
	return os.RemoveAll(dir)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", store.ErrInvalidPartition, name)
	}
	return nil
}

// Partition is a single partition directory.
type Partition struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
}

// Put stores data under key, replacing any existing entry.
func (p *Partition) Put(key string, data []byte) error {
	path := p.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, p.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "put-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.WriteFile(path+keyExt, []byte(key), 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path+dataExt); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Match retrieves the entry stored under key.
func (p *Partition) Match(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(p.path(key) + dataExt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Delete removes the entry stored under key, if any.
func (p *Partition) Delete(key string) error {
	path := p.path(key)
	if err := os.Remove(path + dataExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Remove(path + keyExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Keys returns every key present in the partition, read back from the
// key sidecar files.
func (p *Partition) Keys() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(p.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, keyExt) {
			return nil
		}
		// An entry is present only when its data file exists alongside
		// the sidecar; a dangling sidecar is ignored.
		base := strings.TrimSuffix(path, keyExt)
		if _, statErr := os.Stat(base + dataExt); statErr != nil {
			return nil
		}
		key, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// Stats returns the number of entries and the total payload bytes.
func (p *Partition) Stats() (int, int64, error) {
	var entries int
	var size int64
	err := filepath.WalkDir(p.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, dataExt) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		entries++
		size += info.Size()
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return entries, size, nil
}

// path maps a key to its file path inside the partition, without extension.
func (p *Partition) path(key string) string {
	encoded := digest.FromString(key).Encoded()
	if p.shardPrefixLen <= 0 {
		return filepath.Join(p.dir, encoded)
	}
	prefixLen := p.shardPrefixLen
	if prefixLen > len(encoded) {
		prefixLen = len(encoded)
	}
	return filepath.Join(p.dir, encoded[:prefixLen], encoded)
}
