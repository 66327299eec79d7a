// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package inspect

import (
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/capture"
	"github.com/mbeema/ktap/pkg/flowstate"
	"github.com/mbeema/ktap/pkg/health"
	"github.com/mbeema/ktap/pkg/kafka"
	"github.com/mbeema/ktap/pkg/tuple"
)

type harness struct {
	in    *Inspector
	store *flowstate.Store
	buf   *batch.Buffer
	stats *health.Stats
}

func newHarness(maxTracked int) *harness {
	collect := &atomic.Bool{}
	collect.Store(true)
	h := &harness{
		store: flowstate.NewStore(maxTracked),
		buf:   batch.NewBuffer(0),
		stats: health.NewStats(),
	}
	h.in = New(tuple.NewExtractor(true), h.store, h.buf, h.stats, collect, zap.NewNop())
	return h
}

func testSegment(sport uint16, seq uint32, payload []byte) *capture.Segment {
	return &capture.Segment{
		Sock: tuple.SockSnapshot{
			Family:   tuple.FamilyInet,
			RcvSaddr: [4]byte{10, 0, 0, 1},
			Daddr:    [4]byte{10, 0, 0, 2},
			SkNum:    sport,
			Dport:    0x8423, // 9092 in network byte order
		},
		Payload:   payload,
		TCPSeq:    seq,
		Timestamp: time.Now(),
	}
}

// produceRequest builds a minimal wire-format produce v5 request.
func produceRequest(topic string) []byte {
	var body []byte
	put16 := func(v int16) { body = binary.BigEndian.AppendUint16(body, uint16(v)) }
	put32 := func(v int32) { body = binary.BigEndian.AppendUint32(body, uint32(v)) }

	put16(kafka.APIKeyProduce)
	put16(5)
	put32(11) // correlation id
	put16(4)
	body = append(body, "ktap"...)
	put16(-1)    // transactional id
	put16(-1)    // acks
	put32(30000) // timeout_ms
	put32(1)     // topic count
	put16(int16(len(topic)))
	body = append(body, topic...)
	put32(1)

	out := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	return append(out, body...)
}

func TestHandleSegmentCompletesTransaction(t *testing.T) {
	h := newHarness(0)

	h.in.HandleSegment(testSegment(40000, 1000, produceRequest("orders")))

	if got := h.stats.TxCompleted.Load(); got != 1 {
		t.Fatalf("TxCompleted = %d, want 1", got)
	}
	if h.store.Len() != 0 {
		t.Errorf("store.Len = %d, completed flow should be retired", h.store.Len())
	}

	// The record landed in the worker's page.
	for i := 0; i < batch.PageCapacity-1; i++ {
		h.in.HandleSegment(testSegment(40000, uint32(2000+i), produceRequest("orders")))
	}
	var topics []string
	h.buf.Flush(func(p *batch.Page) error {
		for i := 0; i < p.Len(); i++ {
			topics = append(topics, p.Records[i].TopicName())
		}
		return nil
	})
	if len(topics) != batch.PageCapacity || topics[0] != "orders" {
		t.Errorf("flushed %d records (first %q), want %d orders records",
			len(topics), topics[0], batch.PageCapacity)
	}
}

func TestHandleSegmentSplitRequest(t *testing.T) {
	h := newHarness(0)
	raw := produceRequest("clicks")

	h.in.HandleSegment(testSegment(40000, 1000, raw[:9]))
	if got := h.stats.TxCompleted.Load(); got != 0 {
		t.Fatalf("TxCompleted = %d after a partial header, want 0", got)
	}
	if h.store.Len() != 1 {
		t.Fatalf("store.Len = %d, partial parse state should be kept", h.store.Len())
	}

	h.in.HandleSegment(testSegment(40000, 1009, raw[9:]))
	if got := h.stats.TxCompleted.Load(); got != 1 {
		t.Fatalf("TxCompleted = %d after completion, want 1", got)
	}
	if h.store.Len() != 0 {
		t.Errorf("store.Len = %d, completed flow should be retired", h.store.Len())
	}
}

func TestHandleSegmentDuplicateRejected(t *testing.T) {
	h := newHarness(0)
	raw := produceRequest("orders")

	h.in.HandleSegment(testSegment(40000, 1000, raw))
	h.in.HandleSegment(testSegment(40000, 1000, raw))

	if got := h.stats.SegmentsDeduped.Load(); got != 1 {
		t.Errorf("SegmentsDeduped = %d, want 1", got)
	}
	if got := h.stats.TxCompleted.Load(); got != 1 {
		t.Errorf("TxCompleted = %d, duplicate must not complete twice", got)
	}
}

func TestHandleSegmentEmptyPayload(t *testing.T) {
	h := newHarness(0)

	// Plain ACK with no payload: skipped, no state created.
	seg := testSegment(40000, 1000, nil)
	seg.TCPFlags = capture.TCPACK
	h.in.HandleSegment(seg)
	if got := h.stats.SegmentsSkipped.Load(); got != 1 {
		t.Errorf("SegmentsSkipped = %d, want 1", got)
	}
	if h.store.Len() != 0 {
		t.Errorf("store.Len = %d, want 0", h.store.Len())
	}

	// Start a flow, then terminate it with an empty FIN.
	raw := produceRequest("orders")
	h.in.HandleSegment(testSegment(40000, 2000, raw[:9]))
	if h.store.Len() != 1 {
		t.Fatalf("store.Len = %d, want 1", h.store.Len())
	}

	fin := testSegment(40000, 2009, nil)
	fin.TCPFlags = capture.TCPFIN | capture.TCPACK
	h.in.HandleSegment(fin)
	if h.store.Len() != 0 {
		t.Errorf("store.Len = %d, FIN should wipe the flow state", h.store.Len())
	}

	// The dedup entry went too: a reused tuple starts clean.
	if h.store.SeenBefore(mustTuple(h, 40000), 2000) {
		t.Error("dedup state should not survive connection teardown")
	}
}

func TestHandleSegmentNonKafkaKeepsState(t *testing.T) {
	h := newHarness(0)

	h.in.HandleSegment(testSegment(40000, 1000, []byte("SELECT * FROM users")))
	if got := h.stats.SQLSegments.Load(); got != 1 {
		t.Errorf("SQLSegments = %d, want 1", got)
	}
	if got := h.stats.TxCompleted.Load(); got != 0 {
		t.Errorf("TxCompleted = %d, want 0", got)
	}
	// State is kept: the bytes may be the front of something parseable.
	if h.store.Len() != 1 {
		t.Errorf("store.Len = %d, want 1", h.store.Len())
	}
}

func TestHandleSegmentTableFull(t *testing.T) {
	h := newHarness(1)

	h.in.HandleSegment(testSegment(40000, 1000, []byte("partial")))
	h.in.HandleSegment(testSegment(40001, 1000, []byte("partial")))

	if got := h.stats.StatesDropped.Load(); got != 1 {
		t.Errorf("StatesDropped = %d, want 1", got)
	}
}

func TestHandleSegmentStatsDisabled(t *testing.T) {
	collect := &atomic.Bool{} // false
	store := flowstate.NewStore(0)
	stats := health.NewStats()
	in := New(tuple.NewExtractor(true), store, batch.NewBuffer(0), stats, collect, zap.NewNop())

	in.HandleSegment(testSegment(40000, 1000, produceRequest("orders")))
	if got := stats.SegmentsSeen.Load(); got != 0 {
		t.Errorf("SegmentsSeen = %d with collection disabled, want 0", got)
	}
	// The pipeline itself still runs.
	if store.Len() != 0 {
		t.Errorf("store.Len = %d, transaction should still complete and retire", store.Len())
	}
}

func mustTuple(h *harness, sport uint16) tuple.ConnTuple {
	var tup tuple.ConnTuple
	seg := testSegment(sport, 0, nil)
	if !tuple.NewExtractor(true).ReadTuple(&tup, &seg.Sock, 0, tuple.ConnTCP) {
		panic("test tuple did not resolve")
	}
	return tup
}
