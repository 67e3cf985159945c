// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/grimm-is/xdpfw/internal/errors"
	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Load reads and decodes the HCL config file at path, applying
// DefaultConfig's zero values for anything left unset. A missing or
// malformed file is a KindNotFound/KindValidation error respectively, so
// cmd/xdpfw's caller can treat it as the fatal startup error spec.md §7
// requires.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "read config file %s", path)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diagsErr(diags), errors.KindValidation, "parse config file %s", path)
	}

	cfg := DefaultConfig()
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Wrapf(diagsErr(diags), errors.KindValidation, "decode config file %s", path)
	}

	if cfg.Features == nil {
		f := DefaultFeatures()
		cfg.Features = &f
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// diagsErr flattens hcl.Diagnostics into a plain error so the rest of the
// package can use the shared errors.Wrap taxonomy instead of leaking the
// hcl package's diagnostic type to callers.
func diagsErr(diags hcl.Diagnostics) error {
	return diags.Errs()[0]
}

// Validate checks field-level constraints Load can't express through HCL
// struct tags alone: a non-empty interface name, a sane filter count, at
// most one L4 sub-filter (tcp, udp or icmp) per filter entry, and a known
// action.
func Validate(cfg *Config) error {
	if cfg.Interface == "" {
		return errors.New(errors.KindValidation, "config: interface is required")
	}

	if len(cfg.Filters) > types.MaxFilters {
		return errors.Errorf(errors.KindValidation, "config: %d filters exceeds the %d-slot filter table", len(cfg.Filters), types.MaxFilters)
	}

	for i, f := range cfg.Filters {
		n := 0
		if f.TCP != nil {
			n++
		}
		if f.UDP != nil {
			n++
		}
		if f.ICMP != nil {
			n++
		}
		if n > 1 {
			return errors.Errorf(errors.KindValidation, "config: filter %d configures more than one of tcp/udp/icmp", i)
		}

		switch f.Action {
		case "", "drop", "pass":
		default:
			return errors.Errorf(errors.KindValidation, "config: filter %d has unknown action %q", i, f.Action)
		}
	}

	return nil
}
