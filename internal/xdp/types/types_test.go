// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

import (
	"testing"
	"unsafe"
)

// These assert the Go structs' raw memory layout against c/xdpfw.c's struct
// tcp_opts, struct icmp_opts, and struct filter byte-for-byte. maps.tables.go
// hands these structs straight to (*ebpf.Map).Update, which marshals Go's
// memory layout verbatim into the kernel map; any divergence here silently
// corrupts every field the DP reads past the point of divergence.
func TestTCPOptsLayout(t *testing.T) {
	var o TCPOpts
	if got, want := unsafe.Sizeof(o), uintptr(24); got != want {
		t.Errorf("sizeof(TCPOpts) = %d, want %d", got, want)
	}
	if got, want := unsafe.Offsetof(o.Sport), uintptr(4); got != want {
		t.Errorf("offsetof(TCPOpts.Sport) = %d, want %d", got, want)
	}
	if got, want := unsafe.Offsetof(o.Dport), uintptr(6); got != want {
		t.Errorf("offsetof(TCPOpts.Dport) = %d, want %d", got, want)
	}
}

func TestUDPOptsLayout(t *testing.T) {
	var o UDPOpts
	if got, want := unsafe.Sizeof(o), uintptr(8); got != want {
		t.Errorf("sizeof(UDPOpts) = %d, want %d", got, want)
	}
}

func TestICMPOptsLayout(t *testing.T) {
	var o ICMPOpts
	if got, want := unsafe.Sizeof(o), uintptr(5); got != want {
		t.Errorf("sizeof(ICMPOpts) = %d, want %d", got, want)
	}
}

func TestFilterLayout(t *testing.T) {
	var f Filter
	if got, want := unsafe.Sizeof(f), uintptr(136); got != want {
		t.Errorf("sizeof(Filter) = %d, want %d", got, want)
	}

	cases := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"Action", unsafe.Offsetof(f.Action), 1},
		{"BlockTime", unsafe.Offsetof(f.BlockTime), 4},
		{"SrcIP", unsafe.Offsetof(f.SrcIP), 8},
		{"DstIP", unsafe.Offsetof(f.DstIP), 12},
		{"SrcCIDR", unsafe.Offsetof(f.SrcCIDR), 16},
		{"DstCIDR", unsafe.Offsetof(f.DstCIDR), 17},
		{"SrcIP6", unsafe.Offsetof(f.SrcIP6), 20},
		{"DstIP6", unsafe.Offsetof(f.DstIP6), 36},
		{"DoTOS", unsafe.Offsetof(f.DoTOS), 52},
		{"DoMinTTL", unsafe.Offsetof(f.DoMinTTL), 54},
		{"DoMaxTTL", unsafe.Offsetof(f.DoMaxTTL), 56},
		{"DoMinLen", unsafe.Offsetof(f.DoMinLen), 58},
		{"MinLen", unsafe.Offsetof(f.MinLen), 60},
		{"DoMaxLen", unsafe.Offsetof(f.DoMaxLen), 62},
		{"MaxLen", unsafe.Offsetof(f.MaxLen), 64},
		{"DoPPS", unsafe.Offsetof(f.DoPPS), 66},
		{"PPS", unsafe.Offsetof(f.PPS), 72},
		{"DoBPS", unsafe.Offsetof(f.DoBPS), 80},
		{"BPS", unsafe.Offsetof(f.BPS), 88},
		{"TCPOpts", unsafe.Offsetof(f.TCPOpts), 96},
		{"UDPOpts", unsafe.Offsetof(f.UDPOpts), 120},
		{"ICMPOpts", unsafe.Offsetof(f.ICMPOpts), 128},
		{"Log", unsafe.Offsetof(f.Log), 133},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("offsetof(Filter.%s) = %d, want %d", c.name, c.got, c.want)
		}
	}
}
