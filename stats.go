package skycache

import (
	"fmt"
	"sort"
	"strings"
)

// PartitionStats is the usage breakdown for one cache partition.
type PartitionStats struct {
	Name    string
	Entries int
	Bytes   int64
	Hits    uint64
	Misses  uint64
}

// HitRate returns hits/(hits+misses). The second return value is false
// when no lookups were recorded; absence and a zero hit rate are
// semantically different and must not be conflated.
func (p PartitionStats) HitRate() (float64, bool) {
	total := p.Hits + p.Misses
	if total == 0 {
		return 0, false
	}
	return float64(p.Hits) / float64(total), true
}

// AggregatedCacheStats is the read-only usage report across every cache
// partition.
type AggregatedCacheStats struct {
	TotalEntries   int
	TotalBytes     int64
	TotalHits      uint64
	TotalMisses    uint64
	TotalLayers    int
	CompleteLayers int
	Partitions     []PartitionStats
}

// HitRate returns the overall hit rate; see PartitionStats.HitRate.
func (s AggregatedCacheStats) HitRate() (float64, bool) {
	total := s.TotalHits + s.TotalMisses
	if total == 0 {
		return 0, false
	}
	return float64(s.TotalHits) / float64(total), true
}

// CollectCacheStats aggregates entry counts, byte totals, and hit/miss
// counters across every cache partition. It is a read-only consumer of
// the store and the metadata slot.
func (m *Manager) CollectCacheStats() (AggregatedCacheStats, error) {
	var stats AggregatedCacheStats

	counters, err := m.meta.AllCounters()
	if err != nil {
		m.log().Debug("collect stats: counters unavailable", "error", err)
		counters = nil
	}

	names, err := m.store.ListPartitions()
	if err != nil {
		return stats, fmt.Errorf("skycache: list partitions: %w", err)
	}
	for _, name := range names {
		if !isCachePartition(name) {
			continue
		}
		part, err := m.store.Open(name)
		if err != nil {
			continue
		}
		entries, size, err := part.Stats()
		if err != nil {
			continue
		}
		p := PartitionStats{Name: name, Entries: entries, Bytes: size}
		if c, ok := counters[name]; ok {
			p.Hits = c.Hits
			p.Misses = c.Misses
		}
		stats.Partitions = append(stats.Partitions, p)
		stats.TotalEntries += entries
		stats.TotalBytes += size
		stats.TotalHits += p.Hits
		stats.TotalMisses += p.Misses
	}
	sort.Slice(stats.Partitions, func(i, j int) bool {
		return stats.Partitions[i].Name < stats.Partitions[j].Name
	})

	statuses, err := m.AllLayerStatus()
	if err == nil {
		stats.TotalLayers = len(statuses)
		for _, s := range statuses {
			if s.IsComplete {
				stats.CompleteLayers++
			}
		}
	}
	return stats, nil
}

// FormatCacheStats renders a diagnostic report. A partition that never
// recorded a lookup shows "n/a" rather than a zero hit rate.
func FormatCacheStats(stats AggregatedCacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache usage: %d entries, %s\n", stats.TotalEntries, formatBytes(stats.TotalBytes))
	fmt.Fprintf(&b, "layers complete: %d/%d\n", stats.CompleteLayers, stats.TotalLayers)
	fmt.Fprintf(&b, "overall hit rate: %s\n", formatHitRate(stats.HitRate()))
	for _, p := range stats.Partitions {
		fmt.Fprintf(&b, "  %-40s %6d entries  %10s  hit rate %s\n",
			p.Name, p.Entries, formatBytes(p.Bytes), formatHitRate(p.HitRate()))
	}
	return b.String()
}

func formatHitRate(rate float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", rate*100)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
