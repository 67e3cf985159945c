// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config decodes the declarative xdpfw configuration file (HCL)
// into the single runtime configuration struct called for by spec.md §9's
// Design Notes, collapsing the original's compile-time feature macros
// (ENABLE_FILTERS, ENABLE_FILTER_LOGGING, ENABLE_IP_RANGE_DROP,
// ALLOW_SINGLE_IP_V4_V6) into the Features block below. USE_FLOW_RL is not
// represented here: see the Features doc comment.
package config

// DefaultConfigPath matches spec.md §6's CLI surface: the default -c/--config
// location.
const DefaultConfigPath = "/etc/xdpfw/xdpfw.conf"

// Config is the top-level decoded configuration.
type Config struct {
	Interface string `hcl:"interface"`

	UpdateTime        int  `hcl:"updatetime,optional"`
	NoStats           bool `hcl:"nostats,optional"`
	StatsPerSecond    bool `hcl:"stats_per_second,optional"`
	StdoutUpdateTime  int  `hcl:"stdout_update_time,optional"`
	Verbose           int  `hcl:"verbose,optional"`
	LogFile           string `hcl:"log_file,optional"`
	PinMaps           bool `hcl:"pin_maps,optional"`
	MetricsListenAddr string `hcl:"metrics_listen,optional"`

	Features *Features `hcl:"features,block"`

	Filters    []FilterConfig `hcl:"filter,block"`
	RangeDrops []string       `hcl:"range_drop,optional"`
}

// Features collapses the original's compile-time macros into runtime
// toggles (spec.md §3 "Compilation feature toggles... select which
// tables exist and which DP branches are emitted; the CP must match the
// DP build"). Each field gates real, traceable CP-side behavior:
//
//   - EnableFilters: config.ToFilters returns no filters at all when off,
//     so SyncFilters clears map_filters down to an empty table regardless
//     of what's configured (internal/config/convert.go).
//   - EnableFilterLogging: cmd/xdpfw only constructs and polls the ring
//     buffer consumer when this is set; off means filter_log_event
//     records are emitted by the DP but never drained by the CP.
//   - EnableIPRangeDrop: already wired into ToRangeDrops.
//   - AllowSingleIPv4v6: wired into ToFilters, which rejects any single
//     filter entry that configures both an IPv4 and an IPv6 address
//     field when this is true (the original's ALLOW_SINGLE_IP_V4_V6
//     exclusivity check; see DefaultFeatures for what such an entry does
//     when this is false).
//
// USE_FLOW_RL is deliberately not represented: in the original it changes
// map_ip_stats'/map_ip6_stats' key type from per-source-address to a
// 5-tuple flow struct (src/xdp/utils/maps.h), a DP-side structural change
// that a CP-only toggle cannot honestly reproduce. Building a field for it
// here without a flow-keyed DP table to back it would be exactly the kind
// of toggle that looks wired but isn't.
type Features struct {
	EnableFilters       bool `hcl:"enable_filters,optional"`
	EnableFilterLogging bool `hcl:"enable_filter_logging,optional"`
	EnableIPRangeDrop   bool `hcl:"enable_ip_range_drop,optional"`
	AllowSingleIPv4v6   bool `hcl:"allow_single_ip_v4_v6,optional"`
}

// DefaultFeatures returns the feature set the original ships with by
// default: filters, filter logging, and range-drop all on. AllowSingleIPv4v6
// defaults to false, matching the macro being undefined by default in the
// original build: ToFilters then accepts a filter entry that configures
// both v4 and v6 address fields at once. The data plane does not check
// only the field matching the packet's family: c/xdpfw.c always skips a
// filter carrying an address of the other family, so such an entry
// matches neither IPv4 nor IPv6 packets.
func DefaultFeatures() Features {
	return Features{
		EnableFilters:       true,
		EnableFilterLogging: true,
		EnableIPRangeDrop:   true,
		AllowSingleIPv4v6:   false,
	}
}

// TCPFilterConfig mirrors the original's tcp_opts decl in config form:
// every *bool/*uint16 field is a "do check this" pointer — nil means the
// predicate is not configured, matching spec.md §3's "optional TCP
// sub-filter."
type TCPFilterConfig struct {
	SrcPort *uint16 `hcl:"sport,optional"`
	DstPort *uint16 `hcl:"dport,optional"`
	URG     *bool   `hcl:"urg,optional"`
	ACK     *bool   `hcl:"ack,optional"`
	RST     *bool   `hcl:"rst,optional"`
	PSH     *bool   `hcl:"psh,optional"`
	SYN     *bool   `hcl:"syn,optional"`
	FIN     *bool   `hcl:"fin,optional"`
	ECE     *bool   `hcl:"ece,optional"`
	CWR     *bool   `hcl:"cwr,optional"`
}

// UDPFilterConfig mirrors the original's udp_opts.
type UDPFilterConfig struct {
	SrcPort *uint16 `hcl:"sport,optional"`
	DstPort *uint16 `hcl:"dport,optional"`
}

// ICMPFilterConfig mirrors the original's icmp_opts; the same config
// block is used for both ICMP and ICMPv6 sub-filters (spec.md §3).
type ICMPFilterConfig struct {
	Code *uint8 `hcl:"code,optional"`
	Type *uint8 `hcl:"type,optional"`
}

// FilterConfig is one position in the ordered filter list (spec.md §3's
// Filter entity). Position in the Filters slice is its position in the
// list; see internal/xdp/sync for how that becomes a contiguous kernel
// table index.
type FilterConfig struct {
	Enabled   bool   `hcl:"enabled,optional"`
	Action    string `hcl:"action,optional"` // "drop" (default) or "pass"
	BlockTime int    `hcl:"block_time,optional"`
	Log       bool   `hcl:"log,optional"`

	SrcIP string `hcl:"src_ip,optional"`
	DstIP string `hcl:"dst_ip,optional"`

	TOS    *uint8 `hcl:"tos,optional"`
	MinTTL *uint8 `hcl:"min_ttl,optional"`
	MaxTTL *uint8 `hcl:"max_ttl,optional"`
	MinLen *uint16 `hcl:"min_len,optional"`
	MaxLen *uint16 `hcl:"max_len,optional"`

	PPS *uint64 `hcl:"pps,optional"`
	BPS *uint64 `hcl:"bps,optional"`

	TCP  *TCPFilterConfig  `hcl:"tcp,block"`
	UDP  *UDPFilterConfig  `hcl:"udp,block"`
	ICMP *ICMPFilterConfig `hcl:"icmp,block"`
}

// DefaultConfig returns the zero-filter, stats-on configuration the
// loader falls back to when a field is left unset in HCL (mirrors the
// original's SetCfgDefaults()).
func DefaultConfig() Config {
	f := DefaultFeatures()
	return Config{
		UpdateTime:       10,
		StdoutUpdateTime: 1000,
		Verbose:          0,
		Features:         &f,
	}
}
