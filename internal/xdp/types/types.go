// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package types defines the wire-layout structs shared between the XDP
// data plane (c/xdpfw.c) and the Go control plane. Field order and sizes
// must match the C structs exactly: these are read and written directly
// as map values and ring buffer records.
package types

import (
	"encoding/binary"
	"net/netip"
)

const (
	MaxFilters  = 256
	ActionDrop  = 0
	ActionPass  = 1
)

// TCPOpts mirrors struct tcp_opts in c/xdpfw.c. Field order and types match
// the C struct exactly; Go lays out a struct with natural (non-packed)
// alignment the same way a C compiler does, so no explicit padding fields
// are needed here to get the same 24-byte size and offsets.
type TCPOpts struct {
	Enabled           uint8
	DoSport, DoDport  uint8
	Sport, Dport      uint16
	DoURG, URG        uint8
	DoACK, ACK        uint8
	DoRST, RST        uint8
	DoPSH, PSH        uint8
	DoSYN, SYN        uint8
	DoFIN, FIN        uint8
	DoECE, ECE        uint8
	DoCWR, CWR        uint8
}

// UDPOpts mirrors struct udp_opts.
type UDPOpts struct {
	Enabled          uint8
	DoSport, DoDport uint8
	Sport, Dport     uint16
}

// ICMPOpts mirrors struct icmp_opts: five single-byte fields, byte-aligned,
// no padding.
type ICMPOpts struct {
	Enabled      uint8
	DoCode, Code uint8
	DoType, Type uint8
}

// Filter mirrors struct filter; it is the per-CPU-array value written by
// the synchronizer into map_filters. Slot i terminates the DP's scan when
// Enabled is 0 (see spec.md §3 invariants and §9 Design Notes). As with
// TCPOpts above, fields are declared in the same order and types as the C
// struct and rely on Go's natural struct alignment to reproduce its layout
// byte-for-byte; see types_test.go for offset/size assertions against
// c/xdpfw.c's struct filter (136 bytes).
type Filter struct {
	Enabled   uint8
	Action    uint8
	BlockTime uint32

	SrcIP, DstIP     uint32 // network byte order
	SrcCIDR, DstCIDR uint8
	SrcIP6, DstIP6   [4]uint32 // network byte order, all-zero = unset

	DoTOS, TOS       uint8
	DoMinTTL, MinTTL uint8
	DoMaxTTL, MaxTTL uint8
	DoMinLen         uint16
	MinLen           uint16
	DoMaxLen         uint16
	MaxLen           uint16

	DoPPS uint8
	PPS   uint64
	DoBPS uint8
	BPS   uint64

	TCPOpts  TCPOpts
	UDPOpts  UDPOpts
	ICMPOpts ICMPOpts

	Log uint8
	_   [2]byte // tail padding: struct align is 8 (from PPS/BPS), 134 rounds up to 136
}

// GlobalStats mirrors struct global_stats, one instance per CPU.
type GlobalStats struct {
	Passed  uint64
	Dropped uint64
	Allowed uint64
}

// SumGlobalStats aggregates a per-CPU slice into totals (spec.md §5: "aggregate reads
// must sum across all present CPUs").
func SumGlobalStats(perCPU []GlobalStats) GlobalStats {
	var total GlobalStats
	for _, s := range perCPU {
		total.Passed += s.Passed
		total.Dropped += s.Dropped
		total.Allowed += s.Allowed
	}
	return total
}

// IPStats mirrors struct ip_stats, the sliding-window rate accumulator.
type IPStats struct {
	PPS, BPS      uint64
	WindowStartNs uint64
	PktAccum      uint64
	ByteAccum     uint64
}

// FilterLogEvent mirrors struct filter_log_event, the fixed-size ring
// buffer record (spec.md §6 "Ring-buffer record format").
type FilterLogEvent struct {
	FilterID uint32
	SrcIP    uint32
	SrcIP6   [4]uint32
	SrcPort  uint16
	DstPort  uint16
	PPS      uint64
	BPS      uint64
}

// IsIPv6 reports whether the event carries an IPv6 source address.
func (e FilterLogEvent) IsIPv6() bool {
	return e.SrcIP6[0] != 0 || e.SrcIP6[1] != 0 || e.SrcIP6[2] != 0 || e.SrcIP6[3] != 0
}

// AddrToKey packs an IPv4 address into the uint32 representation every
// table keyed by source/destination address expects. c/xdpfw.c never
// byte-swaps addresses once they're off the wire: iph->saddr is compared
// directly against block-table keys, filter SrcIP/DstIP, and the LPM
// trie's key.addr. Since the DP object targets bpfel, a little-endian
// decode of the address's network-order bytes is what reproduces those
// same bytes once cilium/ebpf serializes the field back out on a
// little-endian host.
func AddrToKey(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.LittleEndian.Uint32(b[:])
}

// Addr6ToKey packs an IPv6 address into the [4]uint32 layout
// ip6h->saddr.in6_u.u6_addr32 uses, following the same no-byte-swap
// convention as AddrToKey.
func Addr6ToKey(addr netip.Addr) [4]uint32 {
	b := addr.As16()
	var out [4]uint32
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return out
}

// RangeDropKey mirrors the LPM_TRIE key used by map_range_drop:
// a u32 prefix length followed by the u32 address, both in the trie's
// required layout (prefixlen first).
type RangeDropKey struct {
	PrefixLen uint32
	Addr      uint32
}
