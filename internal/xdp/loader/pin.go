// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
)

// PinDir is the well-known directory named in spec.md §6's pinned-table
// layout.
const PinDir = "/sys/fs/bpf/xdpfw"

// pinnedMapNames are the tables spec.md §6 names explicitly as pinned;
// map_stats and the per-source stats tables are load-scoped only.
var pinnedMapNames = []string{"map_block", "map_block6", "map_filters", "map_filter_log", "map_range_drop"}

// Unpin removes any leftover pins from a prior, possibly crashed, run.
// This sweep runs before Pin regardless of whether Pin ultimately succeeds:
// spec.md §9 calls it "load-bearing... without it, a crashed prior run
// leaves stale pins that block a new attach." Errors are intentionally
// ignored (spec.md §4.3 point 5).
func (l *Loader) Unpin() {
	for _, name := range pinnedMapNames {
		_ = os.Remove(filepath.Join(PinDir, name))
	}
}

// Pin pins the current run's named tables under PinDir so external tools
// (and a future crash-recovery Unpin) can find them.
func (l *Loader) Pin() error {
	if err := os.MkdirAll(PinDir, 0755); err != nil {
		return err
	}

	named := map[string]*ebpf.Map{
		"map_block":      l.Tables.BlockV4,
		"map_block6":     l.Tables.BlockV6,
		"map_filters":    l.Tables.Filters,
		"map_range_drop": l.Tables.RangeDrop,
		"map_filter_log": l.Tables.FilterLog,
	}

	for _, name := range pinnedMapNames {
		m := named[name]
		if m == nil {
			continue
		}
		if err := m.Pin(filepath.Join(PinDir, name)); err != nil {
			l.log.Warn("failed to pin table, continuing unpinned", "table", name, "error", err)
		}
	}

	return nil
}
