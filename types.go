package skycache

import (
	"strings"

	"github.com/skymap-app/skycache/meta"
)

// SchemaVersion is re-exported from the meta package.
type SchemaVersion = meta.SchemaVersion

// LayerDescriptor describes a named, finite set of static files
// belonging to the planetarium engine's offline data. Descriptors are
// immutable and defined at build time.
//
// Files must be non-empty and stable for a given ID: renaming files
// within a released layer breaks integrity comparison against prior
// downloads.
type LayerDescriptor struct {
	// ID is the stable layer identifier.
	ID string

	// DisplayName is the human-readable layer name.
	DisplayName string

	// BaseURL is the remote location the layer's files resolve against.
	BaseURL string

	// Files lists the layer's relative paths in download order.
	Files []string

	// EstimatedSizeBytes is the approximate total size of the layer.
	EstimatedSizeBytes int64

	// Priority orders batch downloads; lower is more important.
	Priority int
}

// FileURL resolves a declared relative path against the layer's base URL.
func (l LayerDescriptor) FileURL(relPath string) string {
	return strings.TrimSuffix(l.BaseURL, "/") + "/" + strings.TrimPrefix(relPath, "/")
}

// CacheEntryStatus is the derived per-layer cache state. It is
// recomputed from store contents on every query and never persisted;
// the blob store itself is the source of truth.
type CacheEntryStatus struct {
	LayerID             string
	CachedFileCount     int
	TotalFileCount      int
	MissingFiles        []string
	IsComplete          bool
	CachedBytesEstimate int64
}

// TaskStatus is the lifecycle state of a download task.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskDownloading
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskDownloading:
		return "downloading"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Progress is a snapshot of an in-flight download, delivered to
// ProgressFunc after every fetch attempt. The counters themselves only
// ever grow; for sequential layer downloads the callback observes them
// in non-decreasing order too, while concurrent survey batches may
// deliver snapshots out of order. The byte estimate is prorated from
// the unit ratio because true per-file sizes are not known without a
// prior HEAD request.
type Progress struct {
	TargetID               string
	Status                 TaskStatus
	CompletedUnits         int
	TotalUnits             int
	CompletedBytesEstimate int64
	TotalBytesEstimate     int64
	FailedUnits            int
}

// ProgressFunc receives progress updates during downloads.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(Progress)

// RepairResult summarizes a verify-and-repair pass over one layer.
type RepairResult struct {
	// Verified counts files already present before the repair.
	Verified int

	// Repaired counts missing files successfully re-fetched.
	Repaired int

	// Failed counts missing files that could not be fetched.
	Failed int
}

// MigrationResult summarizes one RunMigrations call.
type MigrationResult struct {
	FromVersion   int
	ToVersion     int
	MigratedItems int
	DeletedItems  int

	// Errors lists migration step failures. A failed step is recorded
	// but does not prevent the version stamp from advancing; cache
	// content is always re-derivable from the network.
	Errors []string
}
