// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stats aggregates per-CPU counters out of the data plane and
// exposes them both as a point-in-time snapshot and as a Prometheus/HTTP
// surface, per spec.md §4.5.
package stats

import (
	"sync"
	"time"

	"github.com/cilium/ebpf"

	"github.com/grimm-is/xdpfw/internal/xdp/maps"
)

// Snapshot is one point-in-time read of the global counters plus the
// derived per-second deltas spec.md §4.5 calls "rate reporting" (as
// opposed to the absolute totals the original CLI prints by default).
type Snapshot struct {
	Passed  uint64
	Dropped uint64
	Allowed uint64

	PassedPerSec  float64
	DroppedPerSec float64
	AllowedPerSec float64

	At time.Time
}

// Collector reads map_stats and tracks the previous sample so it can
// derive a per-second rate without the kernel doing it.
type Collector struct {
	statsMap *ebpf.Map

	mu   sync.Mutex
	prev Snapshot
	have bool
}

func NewCollector(statsMap *ebpf.Map) *Collector {
	return &Collector{statsMap: statsMap}
}

// Sample reads the current global counters and computes the per-second
// deltas against the previous call. The first call after construction
// reports a zero rate since there is no prior sample to diff against.
func (c *Collector) Sample(now time.Time) (Snapshot, error) {
	g, err := maps.ReadGlobalStats(c.statsMap)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Passed:  g.Passed,
		Dropped: g.Dropped,
		Allowed: g.Allowed,
		At:      now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.have {
		elapsed := now.Sub(c.prev.At).Seconds()
		if elapsed > 0 {
			snap.PassedPerSec = rate(snap.Passed, c.prev.Passed, elapsed)
			snap.DroppedPerSec = rate(snap.Dropped, c.prev.Dropped, elapsed)
			snap.AllowedPerSec = rate(snap.Allowed, c.prev.Allowed, elapsed)
		}
	}

	c.prev = snap
	c.have = true
	return snap, nil
}

// rate guards against counter resets (a counter that reads lower than in
// the previous sample) by reporting zero instead of a negative rate.
func rate(cur, prev uint64, elapsed float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsed
}
