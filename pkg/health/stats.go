// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Stats tracks self-monitoring counters for the inspector.
type Stats struct {
	startTime time.Time

	SegmentsSeen    atomic.Int64
	SegmentsSkipped atomic.Int64
	SegmentsDeduped atomic.Int64
	SQLSegments     atomic.Int64
	StatesCreated   atomic.Int64
	StatesEvicted   atomic.Int64
	StatesDropped   atomic.Int64 // in-flight table at capacity
	TxCompleted     atomic.Int64
	TxDropped       atomic.Int64 // batch page full at enqueue
	PagesExported   atomic.Int64
	ExportErrors    atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime returns inspector uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	MemorySysBytes  uint64  `json:"memory_sys_bytes"`
	InFlightFlows   int     `json:"in_flight_flows"`
	SegmentsSeen    int64   `json:"segments_seen"`
	SegmentsSkipped int64   `json:"segments_skipped"`
	SegmentsDeduped int64   `json:"segments_deduped"`
	SQLSegments     int64   `json:"sql_segments"`
	StatesCreated   int64   `json:"states_created"`
	StatesEvicted   int64   `json:"states_evicted"`
	StatesDropped   int64   `json:"states_dropped"`
	TxCompleted     int64   `json:"transactions_completed"`
	TxDropped       int64   `json:"transactions_dropped"`
	PagesExported   int64   `json:"pages_exported"`
	ExportErrors    int64   `json:"export_errors"`
}

// Snapshot returns current stats. inFlight is supplied by the caller
// since the flow store owns that gauge.
func (s *Stats) Snapshot(inFlight int) Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		UptimeSeconds:   s.Uptime().Seconds(),
		Goroutines:      runtime.NumGoroutine(),
		MemorySysBytes:  memStats.Sys,
		InFlightFlows:   inFlight,
		SegmentsSeen:    s.SegmentsSeen.Load(),
		SegmentsSkipped: s.SegmentsSkipped.Load(),
		SegmentsDeduped: s.SegmentsDeduped.Load(),
		SQLSegments:     s.SQLSegments.Load(),
		StatesCreated:   s.StatesCreated.Load(),
		StatesEvicted:   s.StatesEvicted.Load(),
		StatesDropped:   s.StatesDropped.Load(),
		TxCompleted:     s.TxCompleted.Load(),
		TxDropped:       s.TxDropped.Load(),
		PagesExported:   s.PagesExported.Load(),
		ExportErrors:    s.ExportErrors.Load(),
	}
}

// PrometheusMetrics returns the snapshot in Prometheus text exposition
// format.
func (snap Snapshot) PrometheusMetrics() string {
	var b strings.Builder
	counter := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP ktap_%s %s\n# TYPE ktap_%s counter\nktap_%s %d\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(&b, "# HELP ktap_%s %s\n# TYPE ktap_%s gauge\nktap_%s %g\n", name, help, name, name, v)
	}

	gauge("uptime_seconds", "Inspector uptime", snap.UptimeSeconds)
	gauge("goroutines", "Number of goroutines", float64(snap.Goroutines))
	gauge("in_flight_flows", "Flows with an in-flight parse", float64(snap.InFlightFlows))
	counter("segments_seen_total", "Segments observed", snap.SegmentsSeen)
	counter("segments_skipped_total", "Segments not admitted", snap.SegmentsSkipped)
	counter("segments_deduped_total", "Duplicate segments rejected", snap.SegmentsDeduped)
	counter("sql_segments_total", "Segments classified as SQL traffic", snap.SQLSegments)
	counter("states_created_total", "Per-flow states created", snap.StatesCreated)
	counter("states_evicted_total", "Per-flow states evicted by the sweep", snap.StatesEvicted)
	counter("states_dropped_total", "Segments dropped: state table full", snap.StatesDropped)
	counter("transactions_completed_total", "Transactions enqueued for export", snap.TxCompleted)
	counter("transactions_dropped_total", "Transactions dropped: page full", snap.TxDropped)
	counter("pages_exported_total", "Batch pages exported", snap.PagesExported)
	counter("export_errors_total", "Failed page emits", snap.ExportErrors)
	return b.String()
}
