// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package loader

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/grimm-is/xdpfw/internal/errors"
	"github.com/grimm-is/xdpfw/internal/host"
)

// AttachMode identifies which XDP attach mode actually took hold, so the CP
// can report it (spec.md §4.3 point 4: "Report the mode actually used").
type AttachMode int

const (
	ModeNative AttachMode = iota
	ModeSKB
	ModeOffload
)

func (m AttachMode) String() string {
	switch m {
	case ModeNative:
		return "native"
	case ModeSKB:
		return "skb"
	case ModeOffload:
		return "offload"
	default:
		return "unknown"
	}
}

// AttachedLink is the subset of link.Link the loader needs to hold onto
// for a clean detach.
type AttachedLink = link.Link

// ForceMode mirrors the CLI's -o/--offload and -s/--skb flags: at most one
// may be set, selecting a single forced attach mode instead of the default
// fallback chain.
type ForceMode int

const (
	ForceNone ForceMode = iota
	ForceOffload
	ForceSKB
)

func xdpFlags(mode AttachMode) link.XDPAttachFlags {
	switch mode {
	case ModeSKB:
		return link.XDPGenericMode
	case ModeOffload:
		return link.XDPOffloadMode
	default:
		return link.XDPDriverMode
	}
}

// Attach implements spec.md §4.3 point 4's three-level fallback: when
// force is ForceNone, try native driver mode, then generic SKB mode, then
// hardware offload mode. When a
// specific mode is forced, try only that mode, then degrade
// offload -> native -> skb -> give up (matching the original loader's
// AttachXdp degrade chain).
func (l *Loader) Attach(ifaceName string, prog *ebpf.Program, ifindex int, force ForceMode) error {
	order := attachOrder(force)

	if force == ForceOffload {
		if ok, err := host.SupportsHardwareOffload(ifaceName); err == nil && !ok {
			l.log.Warn("interface driver does not advertise hardware offload support, attach will likely fail", "interface", ifaceName)
		}
	}

	var lastErr error
	for _, mode := range order {
		lnk, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifindex,
			Flags:     xdpFlags(mode),
		})
		if err == nil {
			l.link = lnk
			l.Mode = mode
			l.log.Info("attached XDP program", "interface", ifaceName, "mode", mode.String())
			return nil
		}
		l.log.Warn("attach attempt failed, trying next mode", "interface", ifaceName, "mode", mode.String(), "error", err)
		lastErr = err
	}

	return errors.Wrapf(lastErr, errors.KindInternal, "all attach modes failed for interface %s", ifaceName)
}

// attachOrder returns the degrade chain for a given forced mode.
func attachOrder(force ForceMode) []AttachMode {
	switch force {
	case ForceOffload:
		return []AttachMode{ModeOffload, ModeNative, ModeSKB}
	case ForceSKB:
		return []AttachMode{ModeSKB}
	default:
		return []AttachMode{ModeNative, ModeSKB, ModeOffload}
	}
}

// Detach removes the XDP attachment using the same mode it was attached
// with (spec.md §5 shutdown ordering).
func (l *Loader) Detach() error {
	if l.link == nil {
		return nil
	}
	err := l.link.Close()
	l.link = nil
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "detach XDP program")
	}
	return nil
}
