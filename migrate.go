package skycache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/skymap-app/skycache/meta"
	"github.com/skymap-app/skycache/store"
)

// CurrentCacheVersion is the compiled-in schema version. Bump it and
// register a migration step whenever the on-disk cache layout changes.
const CurrentCacheVersion = 1

var versionSuffixRe = regexp.MustCompile(`-v\d+$`)

// migrationFunc applies one schema-version step. Steps must be
// tolerant of partial prior failure, i.e. safe to re-run.
type migrationFunc func(ctx context.Context) (migrated, deleted int, err error)

// migrations maps a target version to the step that reaches it.
func (m *Manager) migrations() map[int]migrationFunc {
	return map[int]migrationFunc{
		1: m.migrateV1,
	}
}

// migrateV1 deletes partitions from before versioned partition naming:
// anything carrying the cache prefix but no -v{n} suffix.
func (m *Manager) migrateV1(ctx context.Context) (int, int, error) {
	names, err := m.store.ListPartitions()
	if err != nil {
		return 0, 0, fmt.Errorf("list partitions: %w", err)
	}
	deleted := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return 0, deleted, err
		}
		if !isCachePartition(name) || versionSuffixRe.MatchString(name) {
			continue
		}
		if err := m.store.DeletePartition(name); err != nil && !errors.Is(err, store.ErrPartitionNotFound) {
			return 0, deleted, fmt.Errorf("delete legacy partition %s: %w", name, err)
		}
		m.log().Info("deleted legacy partition", "partition", name)
		deleted++
	}
	return 0, deleted, nil
}

// CacheVersion returns the stored schema version. The second return
// value reports whether one has ever been recorded.
func (m *Manager) CacheVersion() (SchemaVersion, bool, error) {
	return m.meta.SchemaVersion()
}

// IsMigrationNeeded reports whether no schema version is stored or the
// stored version is behind CurrentCacheVersion.
func (m *Manager) IsMigrationNeeded() (bool, error) {
	v, ok, err := m.meta.SchemaVersion()
	if err != nil {
		return false, err
	}
	return !ok || v.Version < CurrentCacheVersion, nil
}

// RunMigrations walks every version strictly greater than the stored
// one up to CurrentCacheVersion, in ascending order. Step failures are
// recorded in the result but do not prevent the final version stamp:
// cache content is always re-derivable from the network, so best-effort
// forward progress beats perpetual migration retries.
func (m *Manager) RunMigrations(ctx context.Context) MigrationResult {
	stored, ok, err := m.meta.SchemaVersion()
	result := MigrationResult{ToVersion: CurrentCacheVersion}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read schema version: %v", err))
	} else if ok {
		result.FromVersion = stored.Version
	}

	if result.FromVersion >= CurrentCacheVersion {
		return result
	}

	steps := m.migrations()
	for version := result.FromVersion + 1; version <= CurrentCacheVersion; version++ {
		step, ok := steps[version]
		if !ok {
			continue
		}
		m.log().Info("running cache migration", "toVersion", version)
		migrated, deleted, err := step(ctx)
		result.MigratedItems += migrated
		result.DeletedItems += deleted
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("migration to v%d: %v", version, err))
			m.log().Warn("cache migration step failed", "toVersion", version, "error", err)
		}
	}

	stamp := meta.SchemaVersion{
		Version:     CurrentCacheVersion,
		MigratedAt:  time.Now().UTC(),
		Description: fmt.Sprintf("migrated from v%d", result.FromVersion),
	}
	if err := m.meta.SetSchemaVersion(stamp); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("write schema version: %v", err))
	}
	return result
}

// InitializeCacheSystem brings the cache up at process start: it runs
// any pending migrations before anything else touches the store. The
// Manager must not serve downloads until this returns.
func (m *Manager) InitializeCacheSystem(ctx context.Context) (MigrationResult, error) {
	needed, err := m.IsMigrationNeeded()
	if err != nil {
		return MigrationResult{}, err
	}
	if !needed {
		v, _, _ := m.meta.SchemaVersion()
		return MigrationResult{FromVersion: v.Version, ToVersion: v.Version}, nil
	}
	result := m.RunMigrations(ctx)
	m.log().Info("cache initialized",
		"fromVersion", result.FromVersion,
		"toVersion", result.ToVersion,
		"deleted", result.DeletedItems,
		"errors", len(result.Errors))
	return result, nil
}

// ResetAllCaches is the explicit, destructive recovery path: it deletes
// every cache partition, clears the hit/miss counters, and removes the
// stored schema version so the next startup re-runs migration from
// zero.
func (m *Manager) ResetAllCaches() bool {
	ok := m.ClearAllCache()
	if err := m.meta.DeleteSchemaVersion(); err != nil {
		m.log().Warn("reset: delete schema version failed", "error", err)
		ok = false
	}
	return ok
}
