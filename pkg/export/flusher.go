// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/health"
)

// DefaultFlushInterval is how often filled pages are drained.
const DefaultFlushInterval = 100 * time.Millisecond

// Flusher periodically drains every worker's filled pages to the
// configured exporters. Enqueue and flush are deliberately decoupled:
// the enqueue path only advances cursors, and this goroutine is the only
// place export I/O happens. A failed emit is logged and the page is
// reset regardless.
type Flusher struct {
	buffers   []*batch.Buffer
	exporters []Exporter
	interval  time.Duration
	stats     *health.Stats
	logger    *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher creates a flusher over the per-worker buffers.
func NewFlusher(buffers []*batch.Buffer, exporters []Exporter, interval time.Duration, stats *health.Stats, logger *zap.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		buffers:   buffers,
		exporters: exporters,
		interval:  interval,
		stats:     stats,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the flush loop.
func (f *Flusher) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.Drain(ctx)
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Drain flushes every eligible page once. Bounded: each buffer holds at
// most PagesPerWorker filled pages.
func (f *Flusher) Drain(ctx context.Context) {
	for _, buf := range f.buffers {
		owner := uint32(buf.WorkerID)
		for i := 0; i < batch.PagesPerWorker; i++ {
			flushed, err := buf.Flush(func(p *batch.Page) error {
				return f.emit(ctx, batch.EncodePage(owner, p))
			})
			if !flushed {
				break
			}
			if err != nil {
				f.stats.ExportErrors.Add(1)
				f.logger.Warn("page emit failed",
					zap.Int("worker", buf.WorkerID),
					zap.Error(err),
				)
			} else {
				f.stats.PagesExported.Add(1)
			}
		}
	}
}

func (f *Flusher) emit(ctx context.Context, page []byte) error {
	var firstErr error
	for _, e := range f.exporters {
		if err := e.ExportPage(ctx, page); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop halts the loop after a final drain of eligible pages.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.Drain(context.Background())
}
