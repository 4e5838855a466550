package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/shelfard/shelfard/pkg/types"
)

// DriftStats tracks how often each column path drifts, so the paths that
// change most often can be surfaced to operators.
type DriftStats struct {
	mu     sync.RWMutex
	paths  map[pathKey]*PathStats
	window time.Duration
	now    func() time.Time
}

type pathKey struct {
	name string
	path string
}

// PathStats holds statistics for one column path of one schema.
type PathStats struct {
	Name      string               `json:"name"`
	Path      string               `json:"path"`
	Frequency int64                `json:"frequency"`
	LastSeen  time.Time            `json:"last_seen"`
	Changes   map[string]int       `json:"changes"` // change type → count (e.g., "TYPE_CHANGED" → 2)
	Worst     types.ChangeSeverity `json:"worst_severity"`
}

// NewDriftStats creates a new drift statistics tracker.
// window: entries not seen for this long are dropped by Prune (e.g., 24 hours)
func NewDriftStats(window time.Duration) *DriftStats {
	return &DriftStats{
		paths:  make(map[pathKey]*PathStats),
		window: window,
		now:    time.Now,
	}
}

// RecordDiff records every change of one check of name.
// This method is thread-safe.
func (d *DriftStats) RecordDiff(name string, diff types.SchemaDiff) {
	if d == nil || len(diff.Changes) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, c := range diff.Changes {
		key := pathKey{name: name, path: c.Path}
		stats, exists := d.paths[key]
		if !exists {
			stats = &PathStats{
				Name:    name,
				Path:    c.Path,
				Changes: make(map[string]int),
				Worst:   c.Severity,
			}
			d.paths[key] = stats
		}

		stats.Frequency++
		stats.LastSeen = now
		stats.Changes[string(c.ChangeType)]++
		stats.Worst = types.MaxSeverity(stats.Worst, c.Severity)
	}
}

// TopPaths returns the n most frequently drifting paths, optionally limited
// to one schema name. Returns copies sorted by frequency (descending), then
// name and path.
func (d *DriftStats) TopPaths(name string, n int) []PathStats {
	if d == nil {
		return []PathStats{}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || len(d.paths) == 0 {
		return []PathStats{}
	}

	stats := make([]PathStats, 0, len(d.paths))
	for _, s := range d.paths {
		if name != "" && s.Name != name {
			continue
		}
		// Deep copy to prevent external modification
		cp := *s
		cp.Changes = make(map[string]int, len(s.Changes))
		for ct, count := range s.Changes {
			cp.Changes[ct] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		if stats[i].Name != stats[j].Name {
			return stats[i].Name < stats[j].Name
		}
		return types.ComparePaths(stats[i].Path, stats[j].Path) < 0
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where LastSeen is older than the window.
// This should be called periodically (e.g., every hour).
func (d *DriftStats) Prune() {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := d.now().Add(-d.window)
	for key, stats := range d.paths {
		if stats.LastSeen.Before(threshold) {
			delete(d.paths, key)
		}
	}
}
