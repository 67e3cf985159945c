// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sync implements the control-plane table synchronizer: writing
// the ordered filter list and the CIDR range-drop trie from configuration,
// per spec.md §4.4.
package sync

import (
	"net/netip"

	"github.com/grimm-is/xdpfw/internal/errors"
	"github.com/grimm-is/xdpfw/internal/xdp/maps"
	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Synchronizer writes configuration into the live DP tables.
type Synchronizer struct {
	Tables maps.Tables

	active []types.Filter
}

func New(t maps.Tables) *Synchronizer {
	return &Synchronizer{Tables: t}
}

// SyncFilters implements spec.md §4.4's filter sync: for every position
// 0..MAX_FILTERS-1, unconditionally delete the slot first, then, for each
// enabled filter in config order, write it into a new contiguous index.
// This guarantees the DP's "stop at first unset slot" scan sees exactly
// the enabled filters with no gaps, and that running the same list twice
// produces an identical table (spec.md §8 "Sync idempotence").
func (s *Synchronizer) SyncFilters(filters []types.Filter) error {
	if len(filters) > types.MaxFilters {
		return errors.Errorf(errors.KindValidation, "too many filters: %d > max %d", len(filters), types.MaxFilters)
	}

	for i := 0; i < types.MaxFilters; i++ {
		if err := maps.DeleteFilterSlot(s.Tables.Filters, uint32(i)); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "clear filter slot %d", i)
		}
	}

	curIdx := uint32(0)
	for _, f := range filters {
		if f.Enabled == 0 {
			continue
		}
		if err := maps.WriteFilterAllCPUs(s.Tables.Filters, curIdx, f); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "write filter slot %d", curIdx)
		}
		curIdx++
	}

	s.active = s.active[:0]
	for _, f := range filters {
		if f.Enabled != 0 {
			s.active = append(s.active, f)
		}
	}

	return nil
}

// ActiveFilters returns the filters written by the most recent successful
// SyncFilters call, in kernel slot order. It implements
// stats.FilterInspector for the debug HTTP surface.
func (s *Synchronizer) ActiveFilters() []types.Filter {
	return s.active
}

// SyncRangeDrops clears and repopulates the LPM trie from the configured
// CIDR list (spec.md §4.4 "CIDR-range sync").
func (s *Synchronizer) SyncRangeDrops(prefixes []netip.Prefix) error {
	if s.Tables.RangeDrop == nil {
		return nil // degraded mode: feature disabled, nothing to do
	}

	if err := maps.ClearRangeDrop(s.Tables.RangeDrop); err != nil {
		return errors.Wrap(err, errors.KindInternal, "clear range-drop table")
	}

	for _, p := range prefixes {
		if !p.Addr().Is4() {
			continue // spec.md §4.1: CIDR-drop stage is IPv4 only
		}
		addr := types.AddrToKey(p.Addr())
		if err := maps.UpsertRangeDrop(s.Tables.RangeDrop, addr, uint32(p.Bits())); err != nil {
			return errors.Wrapf(err, errors.KindInternal, "insert range-drop entry %s", p)
		}
	}

	return nil
}
