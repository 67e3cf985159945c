// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events drains the filter-match ring buffer and logs each record,
// implementing spec.md §4.2's producer/consumer contract.
package events

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/grimm-is/xdpfw/internal/logging"
	"github.com/grimm-is/xdpfw/internal/xdp/types"
)

// Consumer wraps a ringbuf.Reader for map_filter_log.
type Consumer struct {
	reader *ringbuf.Reader
	log    *logging.Logger
}

// NewConsumer opens a ring buffer reader. m may be nil if the filter-log
// table was degraded at load time; callers should check Enabled().
func NewConsumer(m *ebpf.Map, log *logging.Logger) (*Consumer, error) {
	if m == nil {
		return &Consumer{log: log}, nil
	}
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("events: open ring buffer reader: %w", err)
	}
	return &Consumer{reader: r, log: log}, nil
}

func (c *Consumer) Enabled() bool { return c.reader != nil }

// PollOnce drains every record currently available in the ring without
// blocking the main loop, logging each one. ringbuf.Reader.Read blocks by
// default, so a past-due deadline turns each Read into a non-blocking
// poll; once the ring is empty Read returns os.ErrDeadlineExceeded and
// PollOnce returns. Event loss under pressure is acceptable per spec.md
// §4.2 and is not treated as an error here.
func (c *Consumer) PollOnce() error {
	if c.reader == nil {
		return nil
	}
	if err := c.reader.SetDeadline(time.Now()); err != nil {
		return fmt.Errorf("events: set ring buffer deadline: %w", err)
	}
	for {
		rec, err := c.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return err
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return nil
		}
		c.handle(rec.RawSample)
	}
}

func (c *Consumer) handle(raw []byte) {
	var ev types.FilterLogEvent
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ev); err != nil {
		c.log.Warn("failed to decode filter-log record", "error", err)
		return
	}

	// ev.SrcIP/SrcIP6 carry the address's raw network-order bytes
	// reinterpreted as little-endian integers (see types.AddrToKey); a
	// little-endian re-encode recovers the original byte sequence.
	var src string
	if ev.IsIPv6() {
		var b [16]byte
		for i, w := range ev.SrcIP6 {
			binary.LittleEndian.PutUint32(b[i*4:], w)
		}
		src = netip.AddrFrom16(b).String()
	} else {
		ip := make(net.IP, 4)
		binary.LittleEndian.PutUint32(ip, ev.SrcIP)
		src = ip.String()
	}

	c.log.Info("filter match",
		"filter", ev.FilterID,
		"src", fmt.Sprintf("%s:%d", src, ev.SrcPort),
		"dst_port", ev.DstPort,
		"pps", ev.PPS,
		"bps", ev.BPS,
	)
}

// Close shuts down the ring buffer reader (spec.md §5: "free the ring
// consumer" happens before detach on shutdown).
func (c *Consumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
