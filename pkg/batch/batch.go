// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package batch

import (
	"sync/atomic"

	"github.com/mbeema/ktap/pkg/kafka"
)

const (
	// PageCapacity is the number of records per page.
	PageCapacity = 15

	// PagesPerWorker is the ring depth. Pages are recycled once flushed;
	// the ring only needs to absorb the lag between the enqueue path and
	// the flusher tick.
	PagesPerWorker = 3
)

// Page is one fixed-capacity batch of completed transaction records.
type Page struct {
	Idx     uint64 // global page index at fill time
	pos     atomic.Uint32
	Records [PageCapacity]kafka.Record
}

// Len returns the page fill count.
func (p *Page) Len() int { return int(p.pos.Load()) }

// Buffer is the per-worker batch state: a small ring of pages plus the
// write and flush cursors. The owning worker is the only goroutine that
// enqueues; the flusher is the only goroutine that drains. The two sides
// share nothing but the atomic cursors and fill counts, so neither path
// ever blocks.
type Buffer struct {
	WorkerID int

	pages    [PagesPerWorker]Page
	writeIdx atomic.Uint64
	flushIdx atomic.Uint64
}

// NewBuffer creates the batch buffer owned by one worker.
func NewBuffer(workerID int) *Buffer {
	return &Buffer{WorkerID: workerID}
}

// Enqueue appends a completed record to the active page. When the append
// fills the page the write cursor advances so future writes land on a
// fresh page; the filled page is left for the flusher, never exported
// inline. Returns false when the record had to be dropped because the
// active page is still full, which means the flusher has not kept up.
func (b *Buffer) Enqueue(rec *kafka.Record) bool {
	idx := b.writeIdx.Load()
	page := &b.pages[idx%PagesPerWorker]

	pos := page.pos.Load()
	if pos >= PageCapacity {
		// The ring wrapped onto an undrained page. Writing would clobber
		// records the flusher still owns, so drop instead.
		return false
	}

	page.Records[pos] = *rec
	page.Idx = idx
	page.pos.Store(pos + 1)

	if pos+1 == PageCapacity {
		b.writeIdx.Add(1)
	}
	return true
}

// Flushable reports whether an export-eligible page exists.
func (b *Buffer) Flushable() bool {
	return b.flushIdx.Load() < b.writeIdx.Load()
}

// Flush drains at most one filled page through emit. The page is reset
// and the flush cursor advanced whether or not emit succeeded; delivery
// is best-effort and a failed emit is not retried. Returns whether a
// page was flushed, along with emit's error.
func (b *Buffer) Flush(emit func(*Page) error) (bool, error) {
	fi := b.flushIdx.Load()
	if fi == b.writeIdx.Load() {
		return false, nil
	}

	page := &b.pages[fi%PagesPerWorker]
	err := emit(page)
	page.pos.Store(0)
	b.flushIdx.Add(1)
	return true, err
}

// Cursors returns the current write and flush indices.
func (b *Buffer) Cursors() (write, flush uint64) {
	return b.writeIdx.Load(), b.flushIdx.Load()
}
