// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

// fileCapturer replays a pcap file through worker 0. Used for offline
// analysis and in development; timestamps come from the capture file.
type fileCapturer struct {
	cfg    *Config
	logger *zap.Logger

	mu      sync.Mutex
	handler Handler
	cancel  context.CancelFunc
	done    chan struct{}
}

func newFileCapturer(cfg *Config) Capturer {
	return &fileCapturer{
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

func (c *fileCapturer) Workers() int { return 1 }

func (c *fileCapturer) OnSegment(fn Handler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *fileCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return errors.New("capture: no segment handler registered")
	}

	handle, err := pcap.OpenOffline(c.cfg.PcapFile)
	if err != nil {
		return fmt.Errorf("capture: opening pcap file: %w", err)
	}

	var first gopacket.LayerType
	switch handle.LinkType() {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLoop, layers.LinkTypeNull:
		first = layers.LayerTypeLoopback
	default:
		handle.Close()
		return fmt.Errorf("capture: unsupported link type %v", handle.LinkType())
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.done)
		defer handle.Close()

		dec := newDecoder(first, c.cfg.SnapLen, 0)
		var seg Segment
		n := 0
		for ctx.Err() == nil {
			data, ci, err := handle.ReadPacketData()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("pcap read error", zap.Error(err))
				}
				break
			}
			if !dec.decode(data, ci.Timestamp, &seg) {
				continue
			}
			handler(0, &seg)
			n++
		}
		c.logger.Info("pcap replay finished",
			zap.String("file", c.cfg.PcapFile),
			zap.Int("segments", n),
		)
	}()

	c.logger.Info("pcap replay started", zap.String("file", c.cfg.PcapFile))
	return nil
}

func (c *fileCapturer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
	return nil
}
