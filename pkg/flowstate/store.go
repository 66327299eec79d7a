// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package flowstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/ktap/pkg/kafka"
	"github.com/mbeema/ktap/pkg/tuple"
)

// DefaultMaxTracked caps the number of in-flight flows to keep memory
// bounded under connection storms.
const DefaultMaxTracked = 100000

// Store holds the shared cross-worker per-flow state: one in-flight
// transaction per tuple plus the last-processed TCP sequence used for
// duplicate-segment rejection. The only synchronization primitive is the
// atomic insert-if-absent; transaction contents are mutated in place by
// whichever worker observed the segment, with no cross-worker ordering
// beyond the per-flow sequence check.
type Store struct {
	inflight sync.Map // tuple.ConnTuple -> *kafka.Transaction
	lastSeq  sync.Map // tuple.ConnTuple -> uint32

	tracked    atomic.Int64
	maxTracked int64
}

// NewStore creates a Store. maxTracked <= 0 selects DefaultMaxTracked.
func NewStore(maxTracked int) *Store {
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTracked
	}
	return &Store{maxTracked: int64(maxTracked)}
}

// GetOrCreate returns the in-flight transaction for tup, inserting a
// fresh one when absent. The insert is a no-op if another worker got
// there first: existing parse progress is never clobbered. Returns nil
// when the store is at capacity and tup has no entry.
func (s *Store) GetOrCreate(tup tuple.ConnTuple) (tx *kafka.Transaction, created bool) {
	if v, ok := s.inflight.Load(tup); ok {
		return v.(*kafka.Transaction), false
	}
	if s.tracked.Load() >= s.maxTracked {
		return nil, false
	}
	v, loaded := s.inflight.LoadOrStore(tup, &kafka.Transaction{Tup: tup})
	if !loaded {
		s.tracked.Add(1)
	}
	return v.(*kafka.Transaction), !loaded
}

// Retire drops the in-flight entry for a completed transaction. The
// dedup sequence entry stays: late duplicates of the final segment must
// still be rejected.
func (s *Store) Retire(tup tuple.ConnTuple) {
	if _, ok := s.inflight.LoadAndDelete(tup); ok {
		s.tracked.Add(-1)
	}
}

// Forget removes all state for a flow, used on connection teardown.
func (s *Store) Forget(tup tuple.ConnTuple) {
	s.Retire(tup)
	s.lastSeq.Delete(tup)
}

// SeenBefore reports whether seq equals the last processed sequence for
// tup. Identical segments show up twice for loopback traffic observed
// from both capture points.
func (s *Store) SeenBefore(tup tuple.ConnTuple, seq uint32) bool {
	if seq == 0 {
		return false
	}
	v, ok := s.lastSeq.Load(tup)
	return ok && v.(uint32) == seq
}

// MarkSeen records seq as the last processed sequence for tup.
func (s *Store) MarkSeen(tup tuple.ConnTuple, seq uint32) {
	if seq == 0 {
		return
	}
	s.lastSeq.Store(tup, seq)
}

// Len returns the number of tracked in-flight flows.
func (s *Store) Len() int {
	return int(s.tracked.Load())
}

// Sweep removes flows idle for longer than maxAge along with their dedup
// entries, and returns how many were evicted. It is driven by the
// agent's janitor ticker, never from the per-segment path.
func (s *Store) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	removed := 0
	s.inflight.Range(func(k, v any) bool {
		tx := v.(*kafka.Transaction)
		if tx.LastSeen != 0 && tx.LastSeen < cutoff {
			tup := k.(tuple.ConnTuple)
			if _, ok := s.inflight.LoadAndDelete(tup); ok {
				s.tracked.Add(-1)
				s.lastSeq.Delete(tup)
				removed++
			}
		}
		return true
	})
	return removed
}
