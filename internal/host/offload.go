// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// SupportsHardwareOffload reports whether the named interface's driver
// advertises a programmable hardware offload path. There is no portable
// ethtool feature flag named after XDP offload specifically; hw-tc-offload
// is the flag drivers that also support XDP_FLAGS_HW_MODE set, and is the
// same signal used elsewhere in this codebase to gate hardware offload
// attempts before they reach the kernel.
func SupportsHardwareOffload(iface string) (bool, error) {
	eth, err := ethtool.NewEthtool()
	if err != nil {
		return false, fmt.Errorf("host: open ethtool: %w", err)
	}
	defer eth.Close()

	features, err := eth.Features(iface)
	if err != nil {
		return false, fmt.Errorf("host: query features for %s: %w", iface, err)
	}

	return features["hw-tc-offload"], nil
}
