// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inspect

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/capture"
	"github.com/mbeema/ktap/pkg/classify"
	"github.com/mbeema/ktap/pkg/flowstate"
	"github.com/mbeema/ktap/pkg/health"
	"github.com/mbeema/ktap/pkg/kafka"
	"github.com/mbeema/ktap/pkg/tuple"
)

// Inspector runs the per-segment pipeline for one worker: tuple
// extraction, admission, dedup, per-flow state lookup, incremental
// parsing, and batching. Each invocation is short, bounded, and never
// blocks; nothing here may fail the caller.
type Inspector struct {
	extractor *tuple.Extractor
	store     *flowstate.Store
	buf       *batch.Buffer
	stats     *health.Stats
	collect   *atomic.Bool // stats-collection feature flag
	logger    *zap.Logger
}

// New creates the inspector owning one worker's batch buffer. The
// extractor and store are shared across workers; the buffer is not.
func New(extractor *tuple.Extractor, store *flowstate.Store, buf *batch.Buffer, stats *health.Stats, collect *atomic.Bool, logger *zap.Logger) *Inspector {
	return &Inspector{
		extractor: extractor,
		store:     store,
		buf:       buf,
		stats:     stats,
		collect:   collect,
		logger:    logger,
	}
}

func (in *Inspector) count(c *atomic.Int64) {
	if in.collect.Load() {
		c.Add(1)
	}
}

// HandleSegment processes one observed TCP segment end to end.
func (in *Inspector) HandleSegment(seg *capture.Segment) {
	in.count(&in.stats.SegmentsSeen)

	var tup tuple.ConnTuple
	if !in.extractor.ReadTuple(&tup, &seg.Sock, seg.PIDTgid, tuple.ConnTCP) {
		in.count(&in.stats.SegmentsSkipped)
		return
	}

	if !tup.IsTCP() {
		in.count(&in.stats.SegmentsSkipped)
		return
	}

	// Empty payloads carry no protocol data; they are only admitted when
	// they terminate the connection, and then all flow state goes away.
	if len(seg.Payload) == 0 {
		if seg.HasFlag(capture.TCPFIN | capture.TCPRST) {
			in.store.Forget(tup)
		} else {
			in.count(&in.stats.SegmentsSkipped)
		}
		return
	}

	// The same segment shows up twice for loopback traffic observed from
	// both directions; the sequence check is the sole defense against
	// processing identical data again.
	if in.store.SeenBefore(tup, seg.TCPSeq) {
		in.count(&in.stats.SegmentsDeduped)
		return
	}
	in.store.MarkSeen(tup, seg.TCPSeq)

	tx, created := in.store.GetOrCreate(tup)
	if tx == nil {
		in.count(&in.stats.StatesDropped)
		in.logger.Warn("in-flight table full, dropping segment", zap.Stringer("tuple", &tup))
		return
	}
	if created {
		in.count(&in.stats.StatesCreated)
	}

	tx.TCPSeq = seg.TCPSeq
	tx.LastSeen = seg.Timestamp.UnixNano()
	tx.AppendFragment(seg.Payload)

	if !kafka.ParseHeader(tx) {
		// Not (yet) a Kafka request header. Keep the state for a later
		// segment, but note obvious SQL traffic for the traffic mix.
		if classify.IsSQLCommand(seg.Payload) {
			in.count(&in.stats.SQLSegments)
		}
		return
	}
	if !kafka.ParseRequest(tx) {
		return
	}

	rec := tx.Record()
	if in.buf.Enqueue(&rec) {
		in.count(&in.stats.TxCompleted)
	} else {
		in.count(&in.stats.TxDropped)
		in.logger.Warn("batch page full, dropping transaction",
			zap.Int("worker", in.buf.WorkerID),
			zap.String("topic", rec.TopicName()),
		)
	}
	in.store.Retire(tup)
}
