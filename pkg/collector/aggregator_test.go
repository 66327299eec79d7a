// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package collector

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbeema/ktap/pkg/kafka"
)

func record(topic string, apiKey, apiVersion int16) kafka.Record {
	r := kafka.Record{APIKey: apiKey, APIVersion: apiVersion}
	copy(r.Topic[:], topic)
	r.TopicLen = uint8(len(topic))
	return r
}

func TestAggregatorAdd(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	for i := 0; i < 3; i++ {
		r := record("orders", kafka.APIKeyProduce, int16(i+3))
		a.Add(&r, now)
	}
	r := record("orders", kafka.APIKeyFetch, 11)
	a.Add(&r, now)
	r = record("clicks", kafka.APIKeyProduce, 5)
	a.Add(&r, now)

	snap := a.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot has %d entries, want 3 (topic,api key) pairs", len(snap))
	}

	// Sorted by request count descending.
	top := snap[0]
	if top.Topic != "orders" || top.APIKey != kafka.APIKeyProduce {
		t.Errorf("top entry = %q/%d, want orders/produce", top.Topic, top.APIKey)
	}
	if top.Requests != 3 {
		t.Errorf("top Requests = %d, want 3", top.Requests)
	}
	if top.MaxVersion != 5 {
		t.Errorf("MaxVersion = %d, want 5", top.MaxVersion)
	}
	if !top.LastSeen.Equal(now) {
		t.Errorf("LastSeen = %v, want %v", top.LastSeen, now)
	}
}

func TestAggregatorConcurrent(t *testing.T) {
	a := NewAggregator()
	now := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r := record(fmt.Sprintf("topic-%d", i%10), kafka.APIKeyProduce, 5)
				a.Add(&r, now)
			}
		}(w)
	}
	wg.Wait()

	snap := a.Snapshot()
	if len(snap) != 10 {
		t.Fatalf("Snapshot has %d entries, want 10", len(snap))
	}
	var total uint64
	for _, st := range snap {
		total += st.Requests
	}
	if total != 800 {
		t.Errorf("total requests = %d, want 800", total)
	}
}
