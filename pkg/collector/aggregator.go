// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package collector

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/mbeema/ktap/pkg/kafka"
)

const numShards = 16

// TopicStats aggregates completed requests for one (topic, api key)
// pair.
type TopicStats struct {
	Topic      string
	APIKey     int16
	Requests   uint64
	LastSeen   time.Time
	MaxVersion int16
}

type statsKey struct {
	topic  string
	apiKey int16
}

type shard struct {
	mu    sync.Mutex
	stats map[statsKey]*TopicStats
}

// Aggregator accumulates per-topic request counts across all received
// pages. Sharded by topic hash so concurrent page handlers rarely
// contend.
type Aggregator struct {
	shards [numShards]shard
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	for i := range a.shards {
		a.shards[i].stats = make(map[statsKey]*TopicStats)
	}
	return a
}

func (a *Aggregator) shardFor(topic string) *shard {
	h := fnv.New32a()
	h.Write([]byte(topic))
	return &a.shards[h.Sum32()%numShards]
}

// Add folds one record into the aggregate.
func (a *Aggregator) Add(r *kafka.Record, at time.Time) {
	key := statsKey{topic: r.TopicName(), apiKey: r.APIKey}
	sh := a.shardFor(key.topic)

	sh.mu.Lock()
	st, ok := sh.stats[key]
	if !ok {
		st = &TopicStats{Topic: key.topic, APIKey: r.APIKey}
		sh.stats[key] = st
	}
	st.Requests++
	if at.After(st.LastSeen) {
		st.LastSeen = at
	}
	if r.APIVersion > st.MaxVersion {
		st.MaxVersion = r.APIVersion
	}
	sh.mu.Unlock()
}

// Snapshot returns all aggregates sorted by request count, descending.
func (a *Aggregator) Snapshot() []TopicStats {
	var out []TopicStats
	for i := range a.shards {
		sh := &a.shards[i]
		sh.mu.Lock()
		for _, st := range sh.stats {
			out = append(out, *st)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}
