// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// MemoryInfo holds system memory statistics.
type MemoryInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
}

// GetMemoryInfo reads and parses /proc/meminfo.
func GetMemoryInfo() (*MemoryInfo, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info := &MemoryInfo{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		// Field format: "Key: VALUE kB"
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		valBytes := val * 1024

		switch fields[0] {
		case "MemTotal:":
			info.TotalBytes = valBytes
		case "MemFree:":
			info.FreeBytes = valBytes
		case "MemAvailable:":
			info.AvailableBytes = valBytes
		}
	}

	if info.AvailableBytes == 0 {
		info.AvailableBytes = info.FreeBytes
	}

	return info, nil
}

// CheckBPFJIT checks if eBPF JIT is enabled.
func CheckBPFJIT() (bool, error) {
	jitEnabled, err := os.ReadFile("/proc/sys/net/core/bpf_jit_enable")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(jitEnabled)) == "1", nil
}

// GetBPFJITLimit returns the eBPF JIT memory limit in MB.
func GetBPFJITLimit() (int64, error) {
	jitLimit, err := os.ReadFile("/proc/sys/net/core/bpf_jit_limit")
	if err != nil {
		return 0, err
	}

	var limit int64
	_, err = fmt.Sscanf(strings.TrimSpace(string(jitLimit)), "%d", &limit)
	if err != nil {
		return 0, err
	}

	return limit / 1024 / 1024, nil
}

// SetBPFJITLimit sets the eBPF JIT memory limit in MB.
func SetBPFJITLimit(limitMB int64) error {
	limitBytes := limitMB * 1024 * 1024
	data := fmt.Sprintf("%d", limitBytes)
	return os.WriteFile("/proc/sys/net/core/bpf_jit_limit", []byte(data), 0644)
}

// IsBPFFSMounted reports whether /sys/fs/bpf is mounted, the prerequisite
// for xdpfw's pin_maps config option (loader.Pin pins every table under
// /sys/fs/bpf/xdpfw). Without it, Pin's os.MkdirAll/bpf-syscall pin calls
// fail and the operator is left with an unpinned, ephemeral table set that
// a restart of xdpfw silently loses.
func IsBPFFSMounted() (bool, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[2] == "bpf" {
			return true, nil
		}
	}
	return false, nil
}

// GetDeviceID returns a unique identifier for this system, logged once at
// startup so a fleet-wide log aggregator can tell which box a given
// filter-match or table-sync line came from.
// It tries to read the hardware UUID from /sys/class/dmi/id/product_uuid.
func GetDeviceID() string {
	if data, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	return "unknown-device"
}

// SystemRequirementError represents one failed or degraded startup check
// from VerifyBPFSupport. Fatal ones abort cmd/xdpfw before it ever attaches
// the XDP program; non-fatal ones are logged as warnings and xdpfw runs
// anyway.
type SystemRequirementError struct {
	Feature string
	Message string
	Fatal   bool
}

func (e *SystemRequirementError) Error() string {
	return fmt.Sprintf("%s: %s", e.Feature, e.Message)
}

// minAvailableBytesPerCPU is the floor VerifyBPFSupport checks available
// memory against, scaled by runtime.NumCPU(): map_stats and map_filters
// are BPF_MAP_TYPE_PERCPU_ARRAY, so the kernel keeps one copy of
// GlobalStats and of every Filter slot per possible CPU. 64 MB per CPU is
// a generous margin over that replication, not a tight bound.
const minAvailableBytesPerCPU = 64 * 1024 * 1024

// VerifyBPFSupport runs xdpfw's startup checklist: whether eBPF can load at
// all, whether its JIT is enabled and sized reasonably, whether there's
// enough headroom for the per-CPU map replication map_stats/map_filters
// rely on, and, when pinMaps is set, whether /sys/fs/bpf is mounted so
// loader.Pin's pin calls can succeed. Pass cfg.PinMaps as pinMaps so the
// bpffs check only runs when pinning is actually requested.
func VerifyBPFSupport(pinMaps bool) []SystemRequirementError {
	var errs []SystemRequirementError

	if _, err := os.Stat("/proc/sys/net/core/bpf_jit_enable"); os.IsNotExist(err) {
		errs = append(errs, SystemRequirementError{
			Feature: "eBPF",
			Message: "kernel does not support eBPF JIT; xdpfw cannot attach its XDP program",
			Fatal:   true,
		})
		return errs
	}

	if enabled, err := CheckBPFJIT(); err != nil || !enabled {
		errs = append(errs, SystemRequirementError{
			Feature: "JIT",
			Message: "eBPF JIT is not enabled; the classifier will run interpreted on every packet",
			Fatal:   false,
		})
	}

	if limit, err := GetBPFJITLimit(); err == nil && limit < 256 {
		errs = append(errs, SystemRequirementError{
			Feature: "JIT Limit",
			Message: fmt.Sprintf("eBPF JIT limit too low (%d MB, recommended >= 256 MB)", limit),
			Fatal:   false,
		})
	}

	if mem, err := GetMemoryInfo(); err == nil {
		floor := uint64(runtime.NumCPU()) * minAvailableBytesPerCPU
		if mem.AvailableBytes < floor {
			errs = append(errs, SystemRequirementError{
				Feature: "Memory",
				Message: fmt.Sprintf("low available memory for %d CPUs (%d MB available, recommended >= %d MB)",
					runtime.NumCPU(), mem.AvailableBytes/1024/1024, floor/1024/1024),
				Fatal: false,
			})
		}
	}

	if pinMaps {
		if mounted, err := IsBPFFSMounted(); err == nil && !mounted {
			errs = append(errs, SystemRequirementError{
				Feature: "bpffs",
				Message: "pin_maps is enabled but /sys/fs/bpf is not mounted; tables will not survive a restart",
				Fatal:   false,
			})
		}
	}

	return errs
}
