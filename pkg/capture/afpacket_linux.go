// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// afpacketCapturer reads from AF_PACKET (TPACKET v3) with a
// PACKET_FANOUT_CPU group: one ring per worker, so worker identity maps
// to the CPU that received the segment and per-worker state needs no
// cross-worker coordination.
type afpacketCapturer struct {
	cfg     *Config
	logger  *zap.Logger
	workers int
	netns   uint32

	mu      sync.Mutex
	handler Handler
	handles []*afpacket.TPacket
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newLiveCapturer(cfg *Config) (Capturer, error) {
	if cfg.Interface == "" {
		return nil, errors.New("capture: interface not configured")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &afpacketCapturer{
		cfg:     cfg,
		logger:  cfg.Logger,
		workers: workers,
		netns:   selfNetNS(),
	}, nil
}

func (c *afpacketCapturer) Workers() int { return c.workers }

func (c *afpacketCapturer) OnSegment(fn Handler) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

func (c *afpacketCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return errors.New("capture: no segment handler registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	fanoutID := uint16(os.Getpid() & 0xffff)
	for i := 0; i < c.workers; i++ {
		h, err := afpacket.NewTPacket(
			afpacket.OptInterface(c.cfg.Interface),
			afpacket.OptFrameSize(4096),
			afpacket.OptBlockSize(1<<20),
			afpacket.OptNumBlocks(8),
			afpacket.OptPollTimeout(100*time.Millisecond),
			afpacket.TPacketVersion3,
		)
		if err != nil {
			c.closeHandles()
			cancel()
			return fmt.Errorf("capture: opening ring %d on %s: %w", i, c.cfg.Interface, err)
		}
		if err := h.SetFanout(afpacket.FanoutCPU, fanoutID); err != nil {
			h.Close()
			c.closeHandles()
			cancel()
			return fmt.Errorf("capture: joining fanout group: %w", err)
		}
		c.handles = append(c.handles, h)

		c.wg.Add(1)
		go c.readLoop(ctx, i, h, handler)
	}

	c.logger.Info("packet capture started",
		zap.String("interface", c.cfg.Interface),
		zap.Int("workers", c.workers),
		zap.Uint16("fanout_id", fanoutID),
	)
	return nil
}

func (c *afpacketCapturer) readLoop(ctx context.Context, worker int, h *afpacket.TPacket, handler Handler) {
	defer c.wg.Done()

	dec := newDecoder(layers.LayerTypeEthernet, c.cfg.SnapLen, c.netns)
	var seg Segment
	for {
		if ctx.Err() != nil {
			return
		}
		data, ci, err := h.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("capture read error", zap.Int("worker", worker), zap.Error(err))
			continue
		}
		if !dec.decode(data, ci.Timestamp, &seg) {
			continue
		}
		handler(worker, &seg)
	}
}

func (c *afpacketCapturer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.closeHandles()
	return nil
}

func (c *afpacketCapturer) closeHandles() {
	for _, h := range c.handles {
		h.Close()
	}
	c.handles = nil
}

// selfNetNS returns the inode of the agent's network namespace. Passive
// capture observes traffic in its own namespace, so every tuple gets the
// same id.
func selfNetNS() uint32 {
	var st unix.Stat_t
	if err := unix.Stat("/proc/self/ns/net", &st); err != nil {
		return 0
	}
	return uint32(st.Ino)
}
