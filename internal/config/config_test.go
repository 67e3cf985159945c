// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xdpfw.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `interface = "eth0"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Interface != "eth0" {
		t.Errorf("expected interface eth0, got %q", cfg.Interface)
	}
	if cfg.UpdateTime != 10 {
		t.Errorf("expected default updatetime 10, got %d", cfg.UpdateTime)
	}
	if cfg.StdoutUpdateTime != 1000 {
		t.Errorf("expected default stdout_update_time 1000, got %d", cfg.StdoutUpdateTime)
	}
	if cfg.Features == nil || !cfg.Features.EnableFilters {
		t.Errorf("expected EnableFilters default true")
	}
}

func TestLoadMissingInterfaceFails(t *testing.T) {
	path := writeTempConfig(t, `updatetime = 5`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing interface")
	}
}

func TestLoadFilterBlock(t *testing.T) {
	path := writeTempConfig(t, `
interface = "eth0"

filter {
  enabled    = true
  action     = "drop"
  block_time = 5
  src_ip     = "10.0.0.1/32"
  log        = true

  tcp {
    syn = true
  }
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(cfg.Filters))
	}

	f := cfg.Filters[0]
	if f.Action != "drop" || f.BlockTime != 5 || f.SrcIP != "10.0.0.1/32" || !f.Log {
		t.Errorf("unexpected decoded filter: %+v", f)
	}
	if f.TCP == nil || f.TCP.SYN == nil || !*f.TCP.SYN {
		t.Errorf("expected tcp.syn = true, got %+v", f.TCP)
	}
}

func TestValidateRejectsMultipleL4SubFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interface = "eth0"
	cfg.Filters = []FilterConfig{
		{TCP: &TCPFilterConfig{}, UDP: &UDPFilterConfig{}},
	}

	if err := Validate(&cfg); err == nil {
		t.Fatalf("expected validation error for filter with both tcp and udp enabled")
	}
}

func TestToFiltersConvertsAddressesAndFlags(t *testing.T) {
	srcPort := uint16(443)
	syn := true

	cfg := &Config{
		Interface: "eth0",
		Filters: []FilterConfig{
			{
				Enabled: true,
				Action:  "drop",
				SrcIP:   "10.0.0.1/32",
				TCP:     &TCPFilterConfig{SrcPort: &srcPort, SYN: &syn},
			},
		},
	}

	filters, err := ToFilters(cfg)
	if err != nil {
		t.Fatalf("ToFilters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}

	f := filters[0]
	if f.Enabled != 1 || f.Action != types.ActionDrop {
		t.Errorf("unexpected enabled/action: %+v", f)
	}
	if f.SrcCIDR != 32 {
		t.Errorf("expected /32, got %d", f.SrcCIDR)
	}
	if f.TCPOpts.Enabled != 1 || f.TCPOpts.DoSport != 1 || f.TCPOpts.Sport != 443 {
		t.Errorf("unexpected tcp opts: %+v", f.TCPOpts)
	}
	if f.TCPOpts.DoSYN != 1 || f.TCPOpts.SYN != 1 {
		t.Errorf("expected syn required, got %+v", f.TCPOpts)
	}
}

func TestValidateRejectsTooManyFilters(t *testing.T) {
	cfg := &Config{Interface: "eth0"}
	for i := 0; i < types.MaxFilters+1; i++ {
		cfg.Filters = append(cfg.Filters, FilterConfig{Enabled: true})
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error for too many filters")
	}
}

func TestToRangeDropsKeepsOverlappingPrefixes(t *testing.T) {
	cfg := &Config{
		Interface:  "eth0",
		Features:   &Features{EnableIPRangeDrop: true},
		RangeDrops: []string{"10.0.0.0/8", "10.1.2.3/32", "192.168.0.0/16"},
	}

	prefixes, err := ToRangeDrops(cfg)
	if err != nil {
		t.Fatalf("ToRangeDrops: %v", err)
	}
	// 10.1.2.3/32 is already covered by 10.0.0.0/8 from the perspective
	// of a longest-prefix lookup, but range-drop sync writes each
	// configured prefix independently (the kernel LPM_TRIE itself resolves
	// overlap at lookup time), so both should survive here.
	if len(prefixes) != 3 {
		t.Errorf("expected 3 prefixes, got %d: %v", len(prefixes), prefixes)
	}
}

func TestToRangeDropsDisabledByFeatureFlag(t *testing.T) {
	cfg := &Config{
		Interface:  "eth0",
		Features:   &Features{EnableIPRangeDrop: false},
		RangeDrops: []string{"10.0.0.0/8"},
	}

	prefixes, err := ToRangeDrops(cfg)
	if err != nil {
		t.Fatalf("ToRangeDrops: %v", err)
	}
	if prefixes != nil {
		t.Errorf("expected nil prefixes when range-drop disabled, got %v", prefixes)
	}
}

func TestToFiltersDisabledByFeatureFlag(t *testing.T) {
	cfg := &Config{
		Interface: "eth0",
		Features:  &Features{EnableFilters: false},
		Filters: []FilterConfig{
			{Enabled: true, Action: "drop", SrcIP: "10.0.0.1/32"},
		},
	}

	filters, err := ToFilters(cfg)
	if err != nil {
		t.Fatalf("ToFilters: %v", err)
	}
	if filters != nil {
		t.Errorf("expected nil filters when EnableFilters is false, got %v", filters)
	}
}

func TestToFiltersRejectsMixedFamilyWhenExclusivityEnforced(t *testing.T) {
	cfg := &Config{
		Interface: "eth0",
		Features:  &Features{EnableFilters: true, AllowSingleIPv4v6: true},
		Filters: []FilterConfig{
			{Enabled: true, SrcIP: "10.0.0.1/32", DstIP: "2001:db8::1"},
		},
	}

	if _, err := ToFilters(cfg); err == nil {
		t.Fatalf("expected error for filter mixing v4 src_ip and v6 dst_ip")
	}
}

func TestToFiltersAllowsMixedFamilyByDefault(t *testing.T) {
	cfg := &Config{
		Interface: "eth0",
		Features:  &Features{EnableFilters: true, AllowSingleIPv4v6: false},
		Filters: []FilterConfig{
			{Enabled: true, SrcIP: "10.0.0.1/32", DstIP: "2001:db8::1"},
		},
	}

	filters, err := ToFilters(cfg)
	if err != nil {
		t.Fatalf("ToFilters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}
}

func TestToRangeDropsRejectsIPv6(t *testing.T) {
	cfg := &Config{
		Interface:  "eth0",
		Features:   &Features{EnableIPRangeDrop: true},
		RangeDrops: []string{"2001:db8::/32"},
	}

	if _, err := ToRangeDrops(cfg); err == nil {
		t.Fatalf("expected error for IPv6 range_drop entry")
	}
}
