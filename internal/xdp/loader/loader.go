// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package loader implements the control-plane loader responsibilities of
// spec.md §4.3: raising RLIMIT_MEMLOCK, resolving the target interface,
// loading the data-plane object and retrieving its table handles, and
// attaching with the three-level mode fallback.
package loader

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/grimm-is/xdpfw/internal/errors"
	"github.com/grimm-is/xdpfw/internal/logging"
	"github.com/grimm-is/xdpfw/internal/xdp/maps"
	"github.com/grimm-is/xdpfw/internal/xdp/program"
)

// requiredMaps must be present in the loaded collection; their absence is
// a fatal startup error (spec.md §4.3 point 3).
var requiredMaps = []string{"map_filters", "map_stats", "map_block", "map_block6"}

// Loader owns the loaded collection and the attached link.
type Loader struct {
	log        *logging.Logger
	collection *ebpf.Collection
	link       AttachedLink
	Tables     maps.Tables
	Mode       AttachMode
}

// New constructs a Loader. Call RaisePrivileges before Load.
func New(log *logging.Logger) *Loader {
	return &Loader{log: log}
}

// RaisePrivileges raises RLIMIT_MEMLOCK to unbounded, failing fast if the
// caller lacks CAP_SYS_RESOURCE (spec.md §4.3 point 1).
func (l *Loader) RaisePrivileges() error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &limit); err != nil {
		return errors.Wrap(err, errors.KindPermission, "raise RLIMIT_MEMLOCK (are you root?)")
	}
	return nil
}

// Load loads the compiled XDP object, either from objPath if non-empty
// (honoring spec.md §6's "well-known filesystem path" interface) or from
// the binary's embedded bpf2go bindings otherwise, and retrieves every
// required/optional table handle.
func (l *Loader) Load(objPath string) error {
	var spec *ebpf.CollectionSpec
	var err error

	if objPath != "" {
		spec, err = ebpf.LoadCollectionSpec(objPath)
		if err != nil {
			return errors.Wrapf(err, errors.KindInternal, "load DP object from %s", objPath)
		}
	} else {
		spec, err = program.LoadXdpfw()
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "load embedded DP object")
		}
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "instantiate DP collection")
	}
	l.collection = coll

	for _, name := range requiredMaps {
		if _, ok := coll.Maps[name]; !ok {
			return errors.Errorf(errors.KindInternal, "required table %q missing from DP object", name)
		}
	}

	l.Tables = maps.Tables{
		Stats:    coll.Maps["map_stats"],
		BlockV4:  coll.Maps["map_block"],
		BlockV6:  coll.Maps["map_block6"],
		Filters:  coll.Maps["map_filters"],
		IPStats:  coll.Maps["map_ip_stats"],
		IP6Stats: coll.Maps["map_ip6_stats"],
	}

	if m, ok := coll.Maps["map_range_drop"]; ok {
		l.Tables.RangeDrop = m
	} else {
		l.log.Warn("optional table missing, CIDR range-drop disabled", "table", "map_range_drop")
	}

	if m, ok := coll.Maps["map_filter_log"]; ok {
		l.Tables.FilterLog = m
	} else {
		l.log.Warn("optional table missing, filter-match logging disabled", "table", "map_filter_log")
	}

	return nil
}

// Program returns the loaded xdp program, for Attach.
func (l *Loader) Program() (*ebpf.Program, error) {
	prog, ok := l.collection.Programs["xdpfw_main"]
	if !ok {
		return nil, errors.New(errors.KindInternal, "xdp program xdpfw_main not found in collection")
	}
	return prog, nil
}

// ResolveInterface resolves an interface name to its kernel index via
// netlink, replacing the original loader's if_nametoindex(3) call.
func ResolveInterface(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindNotFound, "resolve interface %q", name)
	}
	idx := link.Attrs().Index
	if idx <= 0 {
		return 0, errors.Errorf(errors.KindNotFound, "interface %q has invalid index %d", name, idx)
	}
	return idx, nil
}

// Close releases the loaded collection. Detach must be called separately
// first to remove the kernel attachment (spec.md §5 shutdown ordering).
func (l *Loader) Close() error {
	if l.collection != nil {
		l.collection.Close()
	}
	return nil
}

func closeErr(prefix string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
