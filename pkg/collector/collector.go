// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/config"
)

// Collector consumes exported pages from NATS, aggregates per-topic
// request counts, and optionally persists every record to ClickHouse.
// Pages from different workers interleave arbitrarily; nothing here
// depends on ordering, and gaps are tolerated since delivery from the
// inspector is best-effort.
type Collector struct {
	cfg    config.CollectorConfig
	logger *zap.Logger

	nc  *nats.Conn
	sub *nats.Subscription

	agg     *Aggregator
	sink    *ClickHouseSink
	resolve *ProcResolver

	pagesReceived uint64
	pagesBad      uint64
	mu            sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a collector from configuration.
func New(cfg config.CollectorConfig, logger *zap.Logger) (*Collector, error) {
	c := &Collector{
		cfg:    cfg,
		logger: logger,
		agg:    NewAggregator(),
	}
	if cfg.ResolveProcesses {
		c.resolve = NewProcResolver()
	}
	if cfg.ClickHouse.Enabled {
		sink, err := NewClickHouseSink(cfg.ClickHouse, c.resolve)
		if err != nil {
			return nil, err
		}
		c.sink = sink
		logger.Info("clickhouse sink enabled",
			zap.String("host", cfg.ClickHouse.Host),
			zap.String("database", cfg.ClickHouse.Database),
		)
	}
	return c, nil
}

// Start subscribes and begins processing pages.
func (c *Collector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	nc, err := nats.Connect(c.cfg.NATS.URL,
		nats.Name("ktap-collector"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("collector: connecting to NATS at %s: %w", c.cfg.NATS.URL, err)
	}
	c.nc = nc

	sub, err := nc.Subscribe(c.cfg.NATS.Subject, func(msg *nats.Msg) {
		c.handlePage(ctx, msg.Data)
	})
	if err != nil {
		nc.Close()
		cancel()
		return fmt.Errorf("collector: subscribing to %s: %w", c.cfg.NATS.Subject, err)
	}
	c.sub = sub
	c.logger.Info("subscribed", zap.String("subject", c.cfg.NATS.Subject))

	c.startSnapshots(ctx)
	return nil
}

func (c *Collector) handlePage(ctx context.Context, data []byte) {
	now := time.Now()
	p, err := batch.DecodePage(data)
	if err != nil {
		c.mu.Lock()
		c.pagesBad++
		c.mu.Unlock()
		c.logger.Warn("discarding malformed page", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.pagesReceived++
	c.mu.Unlock()

	for i := range p.Records {
		c.agg.Add(&p.Records[i], now)
	}
	if c.sink != nil {
		if err := c.sink.WritePage(ctx, p, now); err != nil {
			c.logger.Warn("clickhouse write failed", zap.Error(err))
		}
	}
}

func (c *Collector) startSnapshots(ctx context.Context) {
	interval := c.cfg.SnapshotInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.logSnapshot()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Collector) logSnapshot() {
	c.mu.Lock()
	received, bad := c.pagesReceived, c.pagesBad
	c.mu.Unlock()

	top := c.agg.Snapshot()
	if len(top) > 10 {
		top = top[:10]
	}
	c.logger.Info("topic snapshot",
		zap.Uint64("pages_received", received),
		zap.Uint64("pages_malformed", bad),
		zap.Int("topics", len(top)),
	)
	for _, st := range top {
		c.logger.Info("topic",
			zap.String("name", st.Topic),
			zap.Int16("api_key", st.APIKey),
			zap.Uint64("requests", st.Requests),
			zap.Int16("max_version", st.MaxVersion),
		)
	}
}

// Stop unsubscribes and shuts down.
func (c *Collector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	if c.nc != nil {
		c.nc.Close()
	}
	c.wg.Wait()
	if c.sink != nil {
		return c.sink.Close()
	}
	return nil
}
