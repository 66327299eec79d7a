// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/tuple"
)

// TCP control flag bits carried on a Segment.
const (
	TCPFIN uint8 = 0x01
	TCPSYN uint8 = 0x02
	TCPRST uint8 = 0x04
	TCPPSH uint8 = 0x08
	TCPACK uint8 = 0x10
)

// Segment is one observed TCP segment, handed to the inspector exactly
// once per capture. Payload is a bounded prefix (snap length applies)
// and is only valid for the duration of the handler call.
type Segment struct {
	Sock      tuple.SockSnapshot
	Payload   []byte
	TCPFlags  uint8
	TCPSeq    uint32
	PIDTgid   uint64 // zero when the source cannot attribute a process
	Timestamp time.Time
}

// HasFlag reports whether any of the given control flags are set.
func (s *Segment) HasFlag(mask uint8) bool {
	return s.TCPFlags&mask != 0
}

// Handler receives decoded segments. worker identifies the capture queue
// the segment arrived on; all segments for one worker are delivered from
// a single goroutine.
type Handler func(worker int, seg *Segment)

// Capturer is the interface for segment sources.
type Capturer interface {
	// Start begins capture. The handler must be registered first.
	Start(ctx context.Context) error
	Stop() error
	// Workers returns how many capture queues deliver segments.
	Workers() int
	OnSegment(fn Handler)
}

// Config holds capture configuration.
type Config struct {
	Interface string
	Workers   int // fanout group size; 0 means one per CPU
	SnapLen   int
	PcapFile  string // offline replay; takes precedence over Interface
	Logger    *zap.Logger
}

// New creates a segment source: a pcap file replayer when PcapFile is
// set, otherwise the platform live capturer.
func New(cfg *Config) (Capturer, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 1600
	}
	if cfg.PcapFile != "" {
		return newFileCapturer(cfg), nil
	}
	return newLiveCapturer(cfg)
}
