// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package program holds the bpf2go-generated bindings for the XDP data
// plane object. Run `go generate ./...` (with clang/llvm-strip on PATH) to
// produce xdpfw_bpfel.go and xdpfw_bpfel.o from ../../../c/xdpfw.c before
// building cmd/xdpfw; this package only carries the directive that drives
// that step.
package program

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go@latest -no-strip -target bpfel -cc clang Xdpfw ../../../c/xdpfw.c -- -O2 -g -Wall
