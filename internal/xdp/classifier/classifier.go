// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classifier is a faithful Go transliteration of c/xdpfw.c's
// classification algorithm (spec.md §4.1). The data plane itself is a C
// program compiled to BPF bytecode that nothing in this module can
// execute — no Go test can drive the kernel verifier or JIT. Following
// this codebase's own precedent for that exact problem
// (internal/kernel/provider_sim.go's SimKernel, built to exercise the
// rule engine without a real kernel), this package gives the test suite
// the "virtual interface and synthetic packet injector" spec.md §8's
// Testable Properties section calls for.
//
// It is not a production code path: nothing in cmd/xdpfw imports it.
package classifier

import (
	"encoding/binary"
	"net/netip"
	"sync"

	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Verdict mirrors the DP's XDP_PASS/XDP_DROP return values.
type Verdict int

const (
	Pass Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "DROP"
	}
	return "PASS"
}

const (
	nanoPerSec = uint64(1_000_000_000)

	etherHeaderLen = 14
	etherTypeIPv4  = 0x0800
	etherTypeIPv6  = 0x86DD

	ipv6HeaderLen = 40

	protoICMP   = 1
	protoTCP    = 6
	protoUDP    = 17
	protoICMPv6 = 58
)

// State holds the Go-side mirror of every shared table c/xdpfw.c reads
// and writes: the ordered filter list, the v4/v6 block maps, the v4/v6
// per-source stats maps, the optional range-drop oracle, and the
// per-CPU-summed global counters (here just one accumulator, since the
// reference model doesn't need to model per-CPU sharding to test the
// classification algorithm itself).
type State struct {
	mu sync.Mutex

	Filters   [types.MaxFilters]types.Filter
	numActive int

	BlockV4 map[netip.Addr]uint64 // absolute deadline, ns; 0 = permanent
	BlockV6 map[netip.Addr]uint64

	StatsV4 map[netip.Addr]*types.IPStats
	StatsV6 map[netip.Addr]*types.IPStats

	RangeDrop func(netip.Addr) bool // nil disables the CIDR-drop stage

	Stats types.GlobalStats

	// FilterLog records every published filter-match event, mirroring the
	// ring buffer's consumer side (spec.md §4.2) without the kernel
	// plumbing.
	FilterLog []types.FilterLogEvent

	// Now returns the current boot-time nanosecond clock. Tests override
	// this; production code has none, since this package is test-only.
	Now func() uint64
}

// NewState builds a State with the given ordered filter list (slot i ==
// filters[i] when i < len(filters); every slot beyond that is the
// zero-value disabled filter, terminating the DP's scan) and an optional
// range-drop oracle (nil disables the CIDR-drop stage, matching a build
// with map_range_drop missing per spec.md §4.3).
func NewState(filters []types.Filter, rangeDrop func(netip.Addr) bool) *State {
	s := &State{
		BlockV4:   make(map[netip.Addr]uint64),
		BlockV6:   make(map[netip.Addr]uint64),
		StatsV4:   make(map[netip.Addr]*types.IPStats),
		StatsV6:   make(map[netip.Addr]*types.IPStats),
		RangeDrop: rangeDrop,
		Now:       func() uint64 { return 0 },
	}
	s.SetFilters(filters)
	return s
}

// SetFilters overwrites the filter table wholesale, the way sync.SyncFilters
// does against the real kernel table (spec.md §3: "Created at config load;
// overwritten wholesale on reload; never partially mutated").
func (s *State) SetFilters(filters []types.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Filters = [types.MaxFilters]types.Filter{}
	n := len(filters)
	if n > types.MaxFilters {
		n = types.MaxFilters
	}
	for i := 0; i < n; i++ {
		s.Filters[i] = filters[i]
	}
	s.numActive = n
}

// parsed holds the subset of header fields the classifier needs,
// populated by parseFrame.
type parsed struct {
	isV6 bool

	srcV4, dstV4 uint32
	srcV6, dstV6 netip.Addr

	tos, ttl   uint8
	frameLen   uint16 // Ethernet header + L3 total/payload length, per spec.md §9's ambiguity note
	l4proto    uint8

	haveTCP, haveUDP, haveICMP bool
	tcpFlags                   byte
	tcpSrcPort, tcpDstPort     uint16
	udpSrcPort, udpDstPort     uint16
	icmpType, icmpCode         uint8
}

// parseFrame mirrors c/xdpfw.c's parse stage: bounds-checked, linear,
// no loops. ok=false means "XDP_DROP" per spec.md §4.1's failure
// semantics ("every bounds check that fails... yields DROP, never PASS").
// passThrough=true (with ok=true) means "not IPv4/IPv6, or not
// TCP/UDP/ICMP/ICMPv6" — XDP_PASS with no table mutation.
func parseFrame(frame []byte) (p parsed, ok bool, passThrough bool) {
	if len(frame) < etherHeaderLen {
		return parsed{}, false, false
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 && etherType != etherTypeIPv6 {
		return parsed{}, true, true
	}

	var l3Off int
	var l4Off int

	if etherType == etherTypeIPv6 {
		if len(frame) < etherHeaderLen+ipv6HeaderLen {
			return parsed{}, false, false
		}
		l3Off = etherHeaderLen
		h := frame[l3Off:]

		p.isV6 = true
		p.ttl = h[7]
		payloadLen := binary.BigEndian.Uint16(h[4:6])
		p.frameLen = payloadLen + etherHeaderLen // spec.md §9 ambiguity note: excludes the IPv6 fixed header
		p.l4proto = h[6]
		p.srcV6 = netip.AddrFrom16([16]byte(h[8:24]))
		p.dstV6 = netip.AddrFrom16([16]byte(h[24:40]))
		l4Off = l3Off + ipv6HeaderLen
	} else {
		if len(frame) < etherHeaderLen+20 {
			return parsed{}, false, false
		}
		l3Off = etherHeaderLen
		h := frame[l3Off:]
		ihl := int(h[0]&0x0F) * 4
		if ihl < 20 || len(frame) < l3Off+ihl {
			return parsed{}, false, false
		}

		p.tos = h[1]
		p.frameLen = binary.BigEndian.Uint16(h[2:4]) + etherHeaderLen
		p.ttl = h[8]
		p.l4proto = h[9]
		p.srcV4 = binary.LittleEndian.Uint32(h[12:16])
		p.dstV4 = binary.LittleEndian.Uint32(h[16:20])
		l4Off = l3Off + ihl
	}

	switch p.l4proto {
	case protoTCP:
		if len(frame) < l4Off+20 {
			return parsed{}, false, false
		}
		th := frame[l4Off:]
		p.haveTCP = true
		p.tcpSrcPort = binary.BigEndian.Uint16(th[0:2])
		p.tcpDstPort = binary.BigEndian.Uint16(th[2:4])
		p.tcpFlags = th[13]
	case protoUDP:
		if len(frame) < l4Off+8 {
			return parsed{}, false, false
		}
		uh := frame[l4Off:]
		p.haveUDP = true
		p.udpSrcPort = binary.BigEndian.Uint16(uh[0:2])
		p.udpDstPort = binary.BigEndian.Uint16(uh[2:4])
	case protoICMP, protoICMPv6:
		if len(frame) < l4Off+4 {
			return parsed{}, false, false
		}
		ih := frame[l4Off:]
		p.haveICMP = true
		p.icmpType = ih[0]
		p.icmpCode = ih[1]
	default:
		return parsed{}, true, true
	}

	return p, true, false
}

const (
	tcpFlagFIN = 1 << 0
	tcpFlagSYN = 1 << 1
	tcpFlagRST = 1 << 2
	tcpFlagPSH = 1 << 3
	tcpFlagACK = 1 << 4
	tcpFlagURG = 1 << 5
	tcpFlagECE = 1 << 6
	tcpFlagCWR = 1 << 7
)

// Classify runs one frame through the full DP pipeline (spec.md §4.1) and
// returns the verdict, mutating block/stats tables and Stats exactly as
// c/xdpfw.c does.
func (s *State) Classify(frame []byte) Verdict {
	p, ok, passThrough := parseFrame(frame)
	if !ok {
		return Drop
	}
	if passThrough {
		return Pass
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()

	// Block-table stage.
	if p.isV6 {
		if deadline, found := s.BlockV6[p.srcV6]; found {
			if deadline != 0 && now > deadline {
				delete(s.BlockV6, p.srcV6)
			} else {
				s.Stats.Dropped++
				return Drop
			}
		}
	} else {
		srcAddr := addrFromU32(p.srcV4)
		if deadline, found := s.BlockV4[srcAddr]; found {
			if deadline != 0 && now > deadline {
				delete(s.BlockV4, srcAddr)
			} else {
				s.Stats.Dropped++
				return Drop
			}
		}
	}

	// CIDR-drop stage (v4 only).
	if !p.isV6 && s.RangeDrop != nil && s.RangeDrop(addrFromU32(p.srcV4)) {
		s.Stats.Dropped++
		return Drop
	}

	// Statistics stage: one-second sliding window, published values only.
	// Bytes are counted as the received frame length (data_end - data).
	pktLen := uint16(len(frame))
	var pps, bps uint64
	if p.isV6 {
		pps, bps = s.updateStats(s.StatsV6, p.srcV6, pktLen, now)
	} else {
		pps, bps = s.updateStats(s.StatsV4, addrFromU32(p.srcV4), pktLen, now)
	}

	// Filter evaluation.
	matched := -1
	var action uint8
	var blockTime uint32

	for i := 0; i < s.numActive; i++ {
		f := &s.Filters[i]
		if f.Enabled == 0 {
			break
		}
		if !s.filterMatches(f, &p, pps, bps) {
			continue
		}

		if f.Log != 0 {
			s.publishLogEvent(uint32(i), &p, pps, bps)
		}

		matched = i
		action = f.Action
		blockTime = f.BlockTime
		break
	}

	if matched < 0 {
		s.Stats.Passed++
		return Pass
	}

	if action == types.ActionDrop {
		if blockTime > 0 {
			deadline := now + uint64(blockTime)*nanoPerSec
			if p.isV6 {
				s.BlockV6[p.srcV6] = deadline
			} else {
				s.BlockV4[addrFromU32(p.srcV4)] = deadline
			}
		}
		s.Stats.Dropped++
		return Drop
	}

	s.Stats.Allowed++
	return Pass
}

// updateStats implements c/xdpfw.c's update_ip_stats: a one-second
// sliding window whose published pps/bps lag the in-progress accumulator
// by up to one window (spec.md §4.1, §5).
func (s *State) updateStats(table map[netip.Addr]*types.IPStats, addr netip.Addr, frameLen uint16, now uint64) (uint64, uint64) {
	st, ok := table[addr]
	if !ok {
		st = &types.IPStats{WindowStartNs: now}
		table[addr] = st
	}

	if now-st.WindowStartNs > nanoPerSec {
		st.PPS = st.PktAccum
		st.BPS = st.ByteAccum
		st.PktAccum = 0
		st.ByteAccum = 0
		st.WindowStartNs = now
	}

	st.PktAccum++
	st.ByteAccum += uint64(frameLen)

	return st.PPS, st.BPS
}

// filterMatches applies every configured predicate in short-circuit AND,
// mirroring the big per-slot conditional in c/xdpfw.c's filter loop. For
// IPv6 packets only SrcIP6 is compared against the packet; DstIP6 is not
// checked against the destination address (as in c/xdpfw.c) and only takes
// part in the exclusivity check that keeps the filter off IPv4 packets.
func (s *State) filterMatches(f *types.Filter, p *parsed, pps, bps uint64) bool {
	if p.isV6 {
		if hasV6(f.SrcIP6) && f.SrcIP6 != types.Addr6ToKey(p.srcV6) {
			return false
		}
		if f.SrcIP != 0 || f.DstIP != 0 {
			return false // exclusivity: v4-typed filter never matches v6 traffic
		}
		if f.DoMaxTTL != 0 && p.ttl > f.MaxTTL {
			return false
		}
		if f.DoMinTTL != 0 && p.ttl < f.MinTTL {
			return false
		}
		if f.DoMaxLen != 0 && p.frameLen > f.MaxLen {
			return false
		}
		if f.DoMinLen != 0 && p.frameLen < f.MinLen {
			return false
		}
	} else {
		if f.SrcIP != 0 && !v4Match(p.srcV4, f.SrcIP, f.SrcCIDR) {
			return false
		}
		if f.DstIP != 0 && !v4Match(p.dstV4, f.DstIP, f.DstCIDR) {
			return false
		}
		if hasV6(f.SrcIP6) || hasV6(f.DstIP6) {
			return false // exclusivity: v6-typed filter never matches v4 traffic
		}
		if f.DoTOS != 0 && f.TOS != p.tos {
			return false
		}
		if f.DoMaxTTL != 0 && p.ttl > f.MaxTTL {
			return false
		}
		if f.DoMinTTL != 0 && p.ttl < f.MinTTL {
			return false
		}
		if f.DoMaxLen != 0 && p.frameLen > f.MaxLen {
			return false
		}
		if f.DoMinLen != 0 && p.frameLen < f.MinLen {
			return false
		}
	}

	if f.DoPPS != 0 && pps < f.PPS {
		return false
	}
	if f.DoBPS != 0 && bps < f.BPS {
		return false
	}

	switch {
	case f.TCPOpts.Enabled != 0:
		if !p.haveTCP {
			return false
		}
		o := f.TCPOpts
		if o.DoSport != 0 && o.Sport != p.tcpSrcPort {
			return false
		}
		if o.DoDport != 0 && o.Dport != p.tcpDstPort {
			return false
		}
		if !tcpFlagOK(o.DoURG, o.URG, p.tcpFlags, tcpFlagURG) {
			return false
		}
		if !tcpFlagOK(o.DoACK, o.ACK, p.tcpFlags, tcpFlagACK) {
			return false
		}
		if !tcpFlagOK(o.DoRST, o.RST, p.tcpFlags, tcpFlagRST) {
			return false
		}
		if !tcpFlagOK(o.DoPSH, o.PSH, p.tcpFlags, tcpFlagPSH) {
			return false
		}
		if !tcpFlagOK(o.DoSYN, o.SYN, p.tcpFlags, tcpFlagSYN) {
			return false
		}
		if !tcpFlagOK(o.DoFIN, o.FIN, p.tcpFlags, tcpFlagFIN) {
			return false
		}
		if !tcpFlagOK(o.DoECE, o.ECE, p.tcpFlags, tcpFlagECE) {
			return false
		}
		if !tcpFlagOK(o.DoCWR, o.CWR, p.tcpFlags, tcpFlagCWR) {
			return false
		}
	case f.UDPOpts.Enabled != 0:
		if !p.haveUDP {
			return false
		}
		o := f.UDPOpts
		if o.DoSport != 0 && o.Sport != p.udpSrcPort {
			return false
		}
		if o.DoDport != 0 && o.Dport != p.udpDstPort {
			return false
		}
	case f.ICMPOpts.Enabled != 0:
		if !p.haveICMP {
			return false
		}
		o := f.ICMPOpts
		if o.DoCode != 0 && o.Code != p.icmpCode {
			return false
		}
		if o.DoType != 0 && o.Type != p.icmpType {
			return false
		}
	}

	return true
}

// tcpFlagOK checks one required-flag predicate: if do is unset the
// predicate doesn't apply; otherwise the packet's bit for that flag must
// equal the configured want value.
func tcpFlagOK(do, want uint8, flags byte, bit byte) bool {
	if do == 0 {
		return true
	}
	set := flags&bit != 0
	return set == (want != 0)
}

func (s *State) publishLogEvent(filterIdx uint32, p *parsed, pps, bps uint64) {
	ev := types.FilterLogEvent{
		FilterID: filterIdx,
		PPS:      pps,
		BPS:      bps,
	}
	if p.isV6 {
		ev.SrcIP6 = types.Addr6ToKey(p.srcV6)
		ev.SrcPort = tcpOrUDPPort(p, true)
		ev.DstPort = tcpOrUDPPort(p, false)
	} else {
		ev.SrcIP = p.srcV4
		ev.SrcPort = tcpOrUDPPort(p, true)
		ev.DstPort = tcpOrUDPPort(p, false)
	}
	s.FilterLog = append(s.FilterLog, ev)
}

func tcpOrUDPPort(p *parsed, src bool) uint16 {
	switch {
	case p.haveTCP && src:
		return p.tcpSrcPort
	case p.haveTCP:
		return p.tcpDstPort
	case p.haveUDP && src:
		return p.udpSrcPort
	case p.haveUDP:
		return p.udpDstPort
	default:
		return 0
	}
}

func hasV6(a [4]uint32) bool {
	return a[0] != 0 || a[1] != 0 || a[2] != 0 || a[3] != 0
}

func v4Match(addr, filterAddr uint32, cidr uint8) bool {
	if cidr >= 32 {
		return addr == filterAddr
	}
	mask := uint32(0)
	if cidr > 0 {
		mask = be32Mask(^uint32(0) << (32 - cidr))
	}
	return addr&mask == filterAddr&mask
}

// be32Mask converts a host-order mask (the C bpf_htonl(~0U << n) pattern)
// into the same raw-bytes-as-little-endian-value representation
// types.AddrToKey uses for addresses, so it can be applied directly to
// the already-converted SrcIP/addr fields.
func be32Mask(hostMask uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hostMask)
	return binary.LittleEndian.Uint32(b[:])
}

func addrFromU32(v uint32) netip.Addr {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
