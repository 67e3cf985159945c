// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net/netip"

	"github.com/gaissmai/bart"

	"github.com/grimm-is/xdpfw/internal/errors"
	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// ToFilters converts the decoded config into the wire-layout Filter slice
// internal/xdp/sync writes into the kernel table, in config order (spec.md
// §3: "the CP is responsible for writing filters into contiguous
// low-indexed slots").
func ToFilters(cfg *Config) ([]types.Filter, error) {
	if cfg.Features != nil && !cfg.Features.EnableFilters {
		return nil, nil
	}

	allowMixed := cfg.Features == nil || !cfg.Features.AllowSingleIPv4v6

	out := make([]types.Filter, 0, len(cfg.Filters))
	for i, fc := range cfg.Filters {
		f, err := convertFilter(fc)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "filter %d", i)
		}
		if !allowMixed && hasV4Addr(f) && hasV6Addr(f) {
			return nil, errors.Errorf(errors.KindValidation, "filter %d: configures both an IPv4 and an IPv6 address field, but allow_single_ip_v4_v6 requires one address family per filter", i)
		}
		out = append(out, f)
	}
	return out, nil
}

func hasV4Addr(f types.Filter) bool {
	return f.SrcIP != 0 || f.DstIP != 0
}

func hasV6Addr(f types.Filter) bool {
	return f.SrcIP6 != [4]uint32{} || f.DstIP6 != [4]uint32{}
}

func convertFilter(fc FilterConfig) (types.Filter, error) {
	var f types.Filter

	f.Enabled = boolToU8(fc.Enabled)
	if fc.Action == "pass" {
		f.Action = types.ActionPass
	} else {
		f.Action = types.ActionDrop
	}
	f.BlockTime = uint32(fc.BlockTime)
	f.Log = boolToU8(fc.Log)

	if fc.SrcIP != "" {
		addr, cidr, isV6, err := parseAddr(fc.SrcIP)
		if err != nil {
			return f, errors.Wrap(err, errors.KindValidation, "src_ip")
		}
		if isV6 {
			f.SrcIP6 = types.Addr6ToKey(addr)
		} else {
			f.SrcIP = types.AddrToKey(addr)
			f.SrcCIDR = cidr
		}
	}
	if fc.DstIP != "" {
		addr, cidr, isV6, err := parseAddr(fc.DstIP)
		if err != nil {
			return f, errors.Wrap(err, errors.KindValidation, "dst_ip")
		}
		if isV6 {
			f.DstIP6 = types.Addr6ToKey(addr)
		} else {
			f.DstIP = types.AddrToKey(addr)
			f.DstCIDR = cidr
		}
	}

	if fc.TOS != nil {
		f.DoTOS, f.TOS = 1, *fc.TOS
	}
	if fc.MinTTL != nil {
		f.DoMinTTL, f.MinTTL = 1, *fc.MinTTL
	}
	if fc.MaxTTL != nil {
		f.DoMaxTTL, f.MaxTTL = 1, *fc.MaxTTL
	}
	if fc.MinLen != nil {
		f.DoMinLen, f.MinLen = 1, *fc.MinLen
	}
	if fc.MaxLen != nil {
		f.DoMaxLen, f.MaxLen = 1, *fc.MaxLen
	}
	if fc.PPS != nil {
		f.DoPPS, f.PPS = 1, *fc.PPS
	}
	if fc.BPS != nil {
		f.DoBPS, f.BPS = 1, *fc.BPS
	}

	if fc.TCP != nil {
		f.TCPOpts = convertTCP(fc.TCP)
	}
	if fc.UDP != nil {
		f.UDPOpts = convertUDP(fc.UDP)
	}
	if fc.ICMP != nil {
		f.ICMPOpts = convertICMP(fc.ICMP)
	}

	return f, nil
}

func convertTCP(c *TCPFilterConfig) types.TCPOpts {
	var o types.TCPOpts
	o.Enabled = 1
	if c.SrcPort != nil {
		o.DoSport, o.Sport = 1, *c.SrcPort
	}
	if c.DstPort != nil {
		o.DoDport, o.Dport = 1, *c.DstPort
	}
	setFlag(&o.DoURG, &o.URG, c.URG)
	setFlag(&o.DoACK, &o.ACK, c.ACK)
	setFlag(&o.DoRST, &o.RST, c.RST)
	setFlag(&o.DoPSH, &o.PSH, c.PSH)
	setFlag(&o.DoSYN, &o.SYN, c.SYN)
	setFlag(&o.DoFIN, &o.FIN, c.FIN)
	setFlag(&o.DoECE, &o.ECE, c.ECE)
	setFlag(&o.DoCWR, &o.CWR, c.CWR)
	return o
}

func convertUDP(c *UDPFilterConfig) types.UDPOpts {
	var o types.UDPOpts
	o.Enabled = 1
	if c.SrcPort != nil {
		o.DoSport, o.Sport = 1, *c.SrcPort
	}
	if c.DstPort != nil {
		o.DoDport, o.Dport = 1, *c.DstPort
	}
	return o
}

func convertICMP(c *ICMPFilterConfig) types.ICMPOpts {
	var o types.ICMPOpts
	o.Enabled = 1
	if c.Code != nil {
		o.DoCode, o.Code = 1, *c.Code
	}
	if c.Type != nil {
		o.DoType, o.Type = 1, *c.Type
	}
	return o
}

func setFlag(do, val *uint8, ptr *bool) {
	if ptr == nil {
		return
	}
	*do = 1
	if *ptr {
		*val = 1
	}
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// parseAddr parses "a.b.c.d", "a.b.c.d/n", or a bare/CIDR IPv6 literal,
// returning the address, the IPv4 CIDR length (32 if unspecified, ignored
// for IPv6), and whether it's an IPv6 address.
func parseAddr(s string) (netip.Addr, uint8, bool, error) {
	if prefix, err := netip.ParsePrefix(s); err == nil {
		return prefix.Addr(), uint8(prefix.Bits()), prefix.Addr().Is6() && !prefix.Addr().Is4In6(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, 0, false, errors.Wrapf(err, errors.KindValidation, "invalid address %q", s)
	}
	if addr.Is4() {
		return addr, 32, false, nil
	}
	return addr, 128, true, nil
}

// ToRangeDrops validates and de-duplicates exact-duplicate entries from
// the configured CIDR range-drop list (spec.md §8's round-trip property
// needs a way to reconstruct "the logical... list" and compare it).
// Overlapping-but-distinct prefixes are all kept: the kernel LPM_TRIE
// resolves overlap at lookup time on its own, the same way
// NewRangeDropOracle does for tests.
func ToRangeDrops(cfg *Config) ([]netip.Prefix, error) {
	if cfg.Features != nil && !cfg.Features.EnableIPRangeDrop {
		return nil, nil
	}

	seen := make(map[netip.Prefix]bool, len(cfg.RangeDrops))
	prefixes := make([]netip.Prefix, 0, len(cfg.RangeDrops))

	for _, s := range cfg.RangeDrops {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "range_drop entry %q", s)
		}
		if !prefix.Addr().Is4() {
			return nil, errors.Errorf(errors.KindValidation, "range_drop entry %q: only IPv4 is supported (spec.md §4.1)", s)
		}
		prefix = netip.PrefixFrom(prefix.Addr(), prefix.Bits())
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		prefixes = append(prefixes, prefix)
	}

	return prefixes, nil
}

// NewRangeDropOracle builds a bart.Table longest-prefix-match lookup over
// the given prefixes, giving tests a kernel-independent oracle for
// exactly the query check_range_drop performs in c/xdpfw.c: "does this
// source address fall inside any configured CIDR range."
func NewRangeDropOracle(prefixes []netip.Prefix) func(netip.Addr) bool {
	tbl := &bart.Table[bool]{}
	for _, p := range prefixes {
		tbl.Insert(p, true)
	}
	return func(addr netip.Addr) bool {
		_, ok := tbl.Get(addr)
		return ok
	}
}
