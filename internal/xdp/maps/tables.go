// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package maps wraps the cilium/ebpf map handles the loader retrieves into
// typed accessors for each of xdpfw's shared tables (spec.md §3).
package maps

import (
	"fmt"
	"runtime"

	"github.com/cilium/ebpf"

	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Tables bundles handles to every table the data plane and control plane
// share. FilterLog, RangeDrop are optional: a nil field means the feature
// was degraded at load time per spec.md §4.3 point 3.
type Tables struct {
	Stats     *ebpf.Map
	BlockV4   *ebpf.Map
	BlockV6   *ebpf.Map
	Filters   *ebpf.Map
	RangeDrop *ebpf.Map // optional
	FilterLog *ebpf.Map // optional, consumed via ringbuf.Reader instead
	IPStats   *ebpf.Map
	IP6Stats  *ebpf.Map
}

// ReadGlobalStats sums the per-CPU global_stats slot across all CPUs
// (spec.md §5: "aggregate reads must sum across all present CPUs").
func ReadGlobalStats(m *ebpf.Map) (types.GlobalStats, error) {
	var perCPU []types.GlobalStats
	var key uint32
	if err := m.Lookup(&key, &perCPU); err != nil {
		return types.GlobalStats{}, fmt.Errorf("maps: read global stats: %w", err)
	}
	return types.SumGlobalStats(perCPU), nil
}

// DeleteBlockEntry removes a source from the v4 block table. The DP itself
// performs lazy expiry inline.
func DeleteBlockEntry(m *ebpf.Map, srcIP uint32) error {
	err := m.Delete(&srcIP)
	if err != nil {
		return fmt.Errorf("maps: delete block entry: %w", err)
	}
	return nil
}

// WriteFilterAllCPUs replicates one filter value into every CPU's slot of
// the per-CPU filters array at the given index (spec.md §9: "per-CPU
// filter table... purely to avoid cross-CPU cache ping-pong... The CP
// must write identical values to every CPU's slot").
func WriteFilterAllCPUs(m *ebpf.Map, index uint32, f types.Filter) error {
	n := runtime.NumCPU()
	values := make([]types.Filter, n)
	for i := range values {
		values[i] = f
	}
	if err := m.Update(&index, values, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("maps: write filter slot %d: %w", index, err)
	}
	return nil
}

// DeleteFilterSlot unconditionally clears slot index across all CPUs by
// writing a zero-value (disabled) filter. The sync algorithm
// (internal/xdp/sync) always does this before writing a live value, per
// spec.md §4.4.
func DeleteFilterSlot(m *ebpf.Map, index uint32) error {
	return WriteFilterAllCPUs(m, index, types.Filter{})
}

// UpsertRangeDrop inserts one CIDR into the LPM trie.
func UpsertRangeDrop(m *ebpf.Map, addr uint32, prefixLen uint32) error {
	key := types.RangeDropKey{PrefixLen: prefixLen, Addr: addr}
	var present uint8 = 1
	if err := m.Update(&key, &present, ebpf.UpdateAny); err != nil {
		return fmt.Errorf("maps: insert range-drop entry: %w", err)
	}
	return nil
}

// ClearRangeDrop removes every entry currently in the LPM trie so the
// synchronizer can repopulate it from scratch (spec.md §4.4 "CIDR-range
// sync: clear and repopulate").
func ClearRangeDrop(m *ebpf.Map) error {
	var key types.RangeDropKey
	it := m.Iterate()
	var keys []types.RangeDropKey
	var val uint8
	for it.Next(&key, &val) {
		keys = append(keys, key)
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("maps: iterate range-drop: %w", err)
	}
	for _, k := range keys {
		k := k
		if err := m.Delete(&k); err != nil {
			return fmt.Errorf("maps: delete range-drop entry: %w", err)
		}
	}
	return nil
}
