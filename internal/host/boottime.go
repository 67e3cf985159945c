// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// BootNanoTime approximates nanoseconds since system boot by reading the
// uptime field of /proc/uptime, mirroring helpers.c's get_boot_nano_time
// (sysinfo().uptime * 1e9). It is a ±1s approximation: /proc/uptime is
// userspace-readable and not the same clock source as the kernel's
// CLOCK_BOOTTIME (what bpf_ktime_get_ns() uses in the data plane), so this
// is only good enough for display purposes — e.g. formatting a block
// entry's remaining TTL for --list/debug output — never for a comparison
// that has to agree with an in-kernel deadline.
func BootNanoTime() (uint64, error) {
	f, err := os.Open("/proc/uptime")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, os.ErrInvalid
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return 0, os.ErrInvalid
	}

	uptimeSec, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}

	return uint64(uptimeSec * float64(time.Second)), nil
}
