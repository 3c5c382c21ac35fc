// Package meta provides the small persistent metadata slot that lives
// outside the blob partitions: the cache schema version singleton and
// per-partition hit/miss counters.
//
// It is backed by an embedded SQLite database so the slot survives
// restarts without depending on the blob store it describes.
package meta

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a non-persistent database, used in tests and as the
// degraded fallback when no writable location is available.
const MemoryPath = ":memory:"

const schemaVersionKey = "schema_version"

// SchemaVersion records which migrations have been applied to the
// cache's on-disk layout.
type SchemaVersion struct {
	Version     int       `json:"version"`
	MigratedAt  time.Time `json:"migratedAt"`
	Description string    `json:"description"`
}

// Counters holds cache hit/miss totals for one partition.
type Counters struct {
	Hits   uint64
	Misses uint64
}

// Store is the metadata database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the metadata database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("meta: path is empty")
	}
	dsn := path
	if path != MemoryPath {
		dsn = path + "?_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("meta: open database: %w", err)
	}
	if path == MemoryPath {
		// Each pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		partition TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		misses INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("meta: create schema: %w", err)
	}
	return nil
}

// SchemaVersion returns the stored schema version. The second return
// value reports whether a version has ever been recorded.
func (s *Store) SchemaVersion() (SchemaVersion, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion{}, false, nil
	}
	if err != nil {
		return SchemaVersion{}, false, fmt.Errorf("meta: read schema version: %w", err)
	}

	var v SchemaVersion
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		// A corrupt slot is treated as absent so migration re-runs.
		return SchemaVersion{}, false, nil
	}
	return v, true, nil
}

// SetSchemaVersion records v as the current schema version.
func (s *Store) SetSchemaVersion(v SchemaVersion) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("meta: encode schema version: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, schemaVersionKey, string(raw))
	if err != nil {
		return fmt.Errorf("meta: write schema version: %w", err)
	}
	return nil
}

// DeleteSchemaVersion removes the stored schema version so the next
// startup re-runs migration from zero.
func (s *Store) DeleteSchemaVersion() error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, schemaVersionKey); err != nil {
		return fmt.Errorf("meta: delete schema version: %w", err)
	}
	return nil
}

// RecordHit increments the hit counter for a partition.
func (s *Store) RecordHit(partition string) error {
	return s.bump(partition, 1, 0)
}

// RecordMiss increments the miss counter for a partition.
func (s *Store) RecordMiss(partition string) error {
	return s.bump(partition, 0, 1)
}

func (s *Store) bump(partition string, hits, misses int) error {
	_, err := s.db.Exec(`
		INSERT INTO counters (partition, hits, misses) VALUES (?, ?, ?)
		ON CONFLICT(partition) DO UPDATE SET
			hits = hits + excluded.hits,
			misses = misses + excluded.misses
	`, partition, hits, misses)
	if err != nil {
		return fmt.Errorf("meta: update counters: %w", err)
	}
	return nil
}

// AllCounters returns hit/miss counters for every partition that has
// recorded at least one lookup.
func (s *Store) AllCounters() (map[string]Counters, error) {
	rows, err := s.db.Query(`SELECT partition, hits, misses FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("meta: read counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Counters)
	for rows.Next() {
		var partition string
		var c Counters
		if err := rows.Scan(&partition, &c.Hits, &c.Misses); err != nil {
			return nil, fmt.Errorf("meta: scan counters: %w", err)
		}
		out[partition] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: read counters: %w", err)
	}
	return out, nil
}

// ResetCounters clears all hit/miss counters.
func (s *Store) ResetCounters() error {
	if _, err := s.db.Exec(`DELETE FROM counters`); err != nil {
		return fmt.Errorf("meta: reset counters: %w", err)
	}
	return nil
}

// DeleteCounters clears counters for a single partition.
func (s *Store) DeleteCounters(partition string) error {
	if _, err := s.db.Exec(`DELETE FROM counters WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("meta: delete counters: %w", err)
	}
	return nil
}
