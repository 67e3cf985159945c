// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"os"
	"testing"
)

func TestGetMemoryInfo(t *testing.T) {
	if _, err := os.Stat("/proc/meminfo"); err != nil {
		t.Skip("/proc/meminfo unavailable in this environment")
	}

	info, err := GetMemoryInfo()
	if err != nil {
		t.Fatalf("GetMemoryInfo: %v", err)
	}
	if info.TotalBytes == 0 {
		t.Error("expected a non-zero total memory")
	}
	if info.AvailableBytes == 0 {
		t.Error("expected a non-zero available memory (falls back to free if unset)")
	}
}

func TestGetDeviceIDNeverEmpty(t *testing.T) {
	if id := GetDeviceID(); id == "" {
		t.Error("GetDeviceID should never return an empty string")
	}
}

func TestSystemRequirementErrorMessage(t *testing.T) {
	err := &SystemRequirementError{Feature: "JIT", Message: "not enabled", Fatal: false}
	if err.Error() != "JIT: not enabled" {
		t.Errorf("unexpected error string: %q", err.Error())
	}
}

func TestVerifyBPFSupportDoesNotPanic(t *testing.T) {
	// Exercises the full checklist; this environment may or may not
	// satisfy every requirement, so we only assert it runs to completion
	// and returns a well-formed slice.
	for _, pinMaps := range []bool{false, true} {
		reqs := VerifyBPFSupport(pinMaps)
		for _, r := range reqs {
			if r.Feature == "" {
				t.Error("every reported requirement needs a feature name")
			}
		}
	}
}

func TestVerifyBPFSupportChecksBPFFSOnlyWhenPinning(t *testing.T) {
	withoutPin := VerifyBPFSupport(false)
	for _, r := range withoutPin {
		if r.Feature == "bpffs" {
			t.Error("bpffs check should not run when pinMaps is false")
		}
	}
}

func TestIsBPFFSMountedDoesNotError(t *testing.T) {
	if _, err := os.Stat("/proc/mounts"); err != nil {
		t.Skip("/proc/mounts unavailable in this environment")
	}
	if _, err := IsBPFFSMounted(); err != nil {
		t.Fatalf("IsBPFFSMounted: %v", err)
	}
}
