// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/capture"
	"github.com/mbeema/ktap/pkg/config"
	"github.com/mbeema/ktap/pkg/export"
	"github.com/mbeema/ktap/pkg/flowstate"
	"github.com/mbeema/ktap/pkg/health"
	"github.com/mbeema/ktap/pkg/inspect"
	"github.com/mbeema/ktap/pkg/tuple"
)

const shutdownTimeout = 10 * time.Second

// Agent wires the capture source, per-worker inspectors, flusher, state
// sweep, and health server together.
type Agent struct {
	cfg    *config.Config
	logger *zap.Logger

	capturer   capture.Capturer
	extractor  *tuple.Extractor
	store      *flowstate.Store
	buffers    []*batch.Buffer
	inspectors []*inspect.Inspector
	flusher    *export.Flusher
	exporters  []export.Exporter
	healthSrv  *health.Server
	stats      *health.Stats
	collect    atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an agent from configuration.
func New(cfg *config.Config, version string, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		cfg:    cfg,
		logger: logger,
		stats:  health.NewStats(),
	}
	a.collect.Store(cfg.Inspect.Stats)
	a.extractor = tuple.NewExtractor(cfg.Inspect.IPv6)
	a.store = flowstate.NewStore(cfg.FlowState.MaxTracked)

	capturer, err := capture.New(&capture.Config{
		Interface: cfg.Capture.Interface,
		Workers:   cfg.Capture.Workers,
		SnapLen:   cfg.Capture.SnapLen,
		PcapFile:  cfg.Capture.PcapFile,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.capturer = capturer

	for i := 0; i < capturer.Workers(); i++ {
		buf := batch.NewBuffer(i)
		a.buffers = append(a.buffers, buf)
		a.inspectors = append(a.inspectors,
			inspect.New(a.extractor, a.store, buf, a.stats, &a.collect, logger))
	}

	if cfg.Export.NATS.Enabled {
		ne, err := export.NewNATSExporter(cfg.Export.NATS.URL, cfg.Export.NATS.Subject, logger)
		if err != nil {
			return nil, err
		}
		a.exporters = append(a.exporters, ne)
	}
	if cfg.Export.Stdout.Enabled {
		a.exporters = append(a.exporters, export.NewStdoutExporter(logger))
	}
	if len(a.exporters) == 0 {
		return nil, errors.New("agent: no exporter enabled")
	}
	a.flusher = export.NewFlusher(a.buffers, a.exporters, cfg.Export.FlushInterval, a.stats, logger)

	if cfg.Health.Enabled {
		a.healthSrv = health.NewServer(cfg.Health.Addr, version, a.stats, a.store.Len, logger)
	}

	return a, nil
}

// Start begins capture and all background loops.
func (a *Agent) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.capturer.OnSegment(func(worker int, seg *capture.Segment) {
		a.inspectors[worker].HandleSegment(seg)
	})
	if err := a.capturer.Start(ctx); err != nil {
		return err
	}

	a.flusher.Start(ctx)
	a.startSweep(ctx)

	if a.healthSrv != nil {
		if err := a.healthSrv.Start(ctx); err != nil {
			return err
		}
		a.healthSrv.SetReady(true)
	}

	a.logger.Info("inspector started",
		zap.Int("workers", a.capturer.Workers()),
		zap.Bool("ipv6", a.extractor.IPv6Enabled()),
		zap.Bool("stats", a.collect.Load()),
	)
	return nil
}

// startSweep runs the TTL eviction of abandoned per-flow state. The
// sweep is external to the per-segment path: invocations never reclaim
// their own state.
func (a *Agent) startSweep(ctx context.Context) {
	ttl := a.cfg.FlowState.TTL
	interval := a.cfg.FlowState.SweepInterval
	if interval <= 0 {
		interval = ttl
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := a.store.Sweep(ttl); n > 0 {
					a.stats.StatesEvicted.Add(int64(n))
					a.logger.Debug("swept abandoned flows", zap.Int("evicted", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Reload re-resolves the feature flags from a fresh config. Capture and
// export topology changes require a restart and are ignored here.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.extractor.SetIPv6Enabled(cfg.Inspect.IPv6)
	a.collect.Store(cfg.Inspect.Stats)
	a.logger.Info("feature flags applied",
		zap.Bool("ipv6", cfg.Inspect.IPv6),
		zap.Bool("stats", cfg.Inspect.Stats),
	)
	return nil
}

// Stop shuts everything down, flushing eligible pages on the way out.
func (a *Agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	err := a.capturer.Stop()
	a.flusher.Stop()
	a.wg.Wait()

	ctx, cancelT := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelT()
	for _, e := range a.exporters {
		if serr := e.Shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	if a.healthSrv != nil {
		if herr := a.healthSrv.Stop(); herr != nil && err == nil {
			err = herr
		}
	}
	a.logger.Info("inspector stopped")
	return err
}
