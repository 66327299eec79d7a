// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package kafka

import (
	"encoding/binary"
	"testing"
)

// buildRequest assembles a wire-format request: size prefix, header, and
// the api-specific body fields up to and including the first topic name.
func buildRequest(apiKey, apiVersion int16, correlationID int32, clientID, topic string) []byte {
	var body []byte

	put16 := func(v int16) {
		body = binary.BigEndian.AppendUint16(body, uint16(v))
	}
	put32 := func(v int32) {
		body = binary.BigEndian.AppendUint32(body, uint32(v))
	}

	put16(apiKey)
	put16(apiVersion)
	put32(correlationID)
	put16(int16(len(clientID)))
	body = append(body, clientID...)

	switch apiKey {
	case APIKeyProduce:
		if apiVersion >= 3 {
			put16(-1) // transactional id absent
		}
		put16(-1)        // acks
		put32(30000)     // timeout_ms
		put32(1)         // topic array count
	case APIKeyFetch:
		put32(-1)    // replica_id
		put32(500)   // max_wait_ms
		put32(1)     // min_bytes
		if apiVersion >= 3 {
			put32(1 << 20) // max_bytes
		}
		if apiVersion >= 4 {
			body = append(body, 0) // isolation_level
		}
		if apiVersion >= 7 {
			put32(0) // session_id
			put32(0) // session_epoch
		}
		put32(1) // topic array count
	}

	put16(int16(len(topic)))
	body = append(body, topic...)
	// Trailing partition data the parser never reads.
	put32(1)

	out := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	return append(out, body...)
}

func newTx(payload []byte) *Transaction {
	tx := &Transaction{}
	tx.AppendFragment(payload)
	return tx
}

func TestParseProduceRequest(t *testing.T) {
	for v := MinSupportedProduceVersion; v <= MaxSupportedProduceVersion; v++ {
		tx := newTx(buildRequest(APIKeyProduce, v, 42, "console-producer", "orders"))
		if !ParseHeader(tx) {
			t.Fatalf("v%d: ParseHeader failed", v)
		}
		if !ParseRequest(tx) {
			t.Fatalf("v%d: ParseRequest failed", v)
		}
		if tx.APIKey != APIKeyProduce || tx.APIVersion != v {
			t.Errorf("v%d: key/version = %d/%d", v, tx.APIKey, tx.APIVersion)
		}
		if tx.CorrelationID != 42 {
			t.Errorf("v%d: CorrelationID = %d, want 42", v, tx.CorrelationID)
		}
		if got := tx.TopicName(); got != "orders" {
			t.Errorf("v%d: topic = %q, want orders", v, got)
		}
	}
}

func TestParseFetchRequest(t *testing.T) {
	for v := int16(0); v <= MaxSupportedFetchVersion; v++ {
		tx := newTx(buildRequest(APIKeyFetch, v, 7, "consumer-1", "payments.events"))
		if !ParseHeader(tx) {
			t.Fatalf("v%d: ParseHeader failed", v)
		}
		if !ParseRequest(tx) {
			t.Fatalf("v%d: ParseRequest failed", v)
		}
		if got := tx.TopicName(); got != "payments.events" {
			t.Errorf("v%d: topic = %q, want payments.events", v, got)
		}
	}
}

func TestParseHeaderRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"produce v0", buildRequest(APIKeyProduce, 0, 1, "c", "t")},
		{"produce version too high", buildRequest(APIKeyProduce, MaxSupportedProduceVersion+1, 1, "c", "t")},
		{"fetch version too high", buildRequest(APIKeyFetch, MaxSupportedFetchVersion+1, 1, "c", "t")},
		{"unknown api key", buildRequest(3, 1, 1, "c", "t")},
		{"negative correlation id", buildRequest(APIKeyProduce, 5, -9, "c", "t")},
		{"client id bad charset", buildRequest(APIKeyProduce, 5, 1, "bad client!", "t")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := newTx(tc.raw)
			if ParseHeader(tx) {
				t.Error("ParseHeader should reject")
			}
			if tx.HeaderDone {
				t.Error("failed parse must not mark the header done")
			}
		})
	}
}

func TestParseHeaderUndersizedMessage(t *testing.T) {
	raw := buildRequest(APIKeyProduce, 5, 1, "c", "t")
	// Declared size smaller than the minimum header remainder.
	binary.BigEndian.PutUint32(raw[0:4], 9)
	tx := newTx(raw)
	if ParseHeader(tx) {
		t.Error("ParseHeader should reject an undersized message_size")
	}
}

func TestParseHeaderSplitAcrossSegments(t *testing.T) {
	raw := buildRequest(APIKeyProduce, 8, 100, "producer-app", "clicks")

	// First segment ends mid-header.
	tx := newTx(raw[:9])
	if ParseHeader(tx) {
		t.Fatal("ParseHeader should not succeed on a partial header")
	}

	// Second segment completes the request.
	tx.AppendFragment(raw[9:])
	if !ParseHeader(tx) {
		t.Fatal("ParseHeader should succeed once the header is complete")
	}
	if !ParseRequest(tx) {
		t.Fatal("ParseRequest should succeed on the completed fragment")
	}
	if got := tx.TopicName(); got != "clicks" {
		t.Errorf("topic = %q, want clicks", got)
	}
}

func TestParseRequestTopicSplitAcrossSegments(t *testing.T) {
	raw := buildRequest(APIKeyFetch, 11, 3, "consumer", "metrics.agg")

	// Cut inside the topic name bytes.
	cut := len(raw) - 8
	tx := newTx(raw[:cut])
	if !ParseHeader(tx) {
		t.Fatal("ParseHeader failed on the first segment")
	}
	if ParseRequest(tx) {
		t.Fatal("ParseRequest should wait for the rest of the topic name")
	}

	tx.AppendFragment(raw[cut:])
	if !ParseRequest(tx) {
		t.Fatal("ParseRequest should succeed after the topic completes")
	}
	if got := tx.TopicName(); got != "metrics.agg" {
		t.Errorf("topic = %q, want metrics.agg", got)
	}
}

func TestParseRequestTopicRejections(t *testing.T) {
	t.Run("empty topic", func(t *testing.T) {
		tx := newTx(buildRequest(APIKeyProduce, 5, 1, "c", ""))
		if !ParseHeader(tx) {
			t.Fatal("ParseHeader failed")
		}
		if ParseRequest(tx) {
			t.Error("ParseRequest should reject a zero-length topic")
		}
	})

	t.Run("bad charset", func(t *testing.T) {
		tx := newTx(buildRequest(APIKeyProduce, 5, 1, "c", "top ic"))
		if !ParseHeader(tx) {
			t.Fatal("ParseHeader failed")
		}
		if ParseRequest(tx) {
			t.Error("ParseRequest should reject an invalid topic charset")
		}
	})
}

func TestParseRequestLongTopicTruncated(t *testing.T) {
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}
	tx := newTx(buildRequest(APIKeyProduce, 5, 1, "c", string(long)))
	if !ParseHeader(tx) {
		t.Fatal("ParseHeader failed")
	}
	if !ParseRequest(tx) {
		t.Fatal("ParseRequest failed")
	}
	if int(tx.TopicLen) != TopicNameBufSize {
		t.Errorf("TopicLen = %d, want truncation to %d", tx.TopicLen, TopicNameBufSize)
	}
	if got := tx.TopicName(); got != string(long[:TopicNameBufSize]) {
		t.Errorf("topic = %q, want the first %d bytes", got, TopicNameBufSize)
	}
}

func TestParseNeverReadsPastDeclaredSize(t *testing.T) {
	raw := buildRequest(APIKeyProduce, 5, 1, "c", "events")
	// Shrink the declared size so the topic bytes sit past it. The bytes
	// are present in the fragment but the parser must not trust them.
	binary.BigEndian.PutUint32(raw[0:4], 24)
	tx := newTx(raw)
	if !ParseHeader(tx) {
		t.Fatal("ParseHeader failed")
	}
	if ParseRequest(tx) {
		t.Error("ParseRequest should not read past the declared message size")
	}
}

func TestParseHeaderIdempotent(t *testing.T) {
	tx := newTx(buildRequest(APIKeyFetch, 4, 9, "c", "t1"))
	if !ParseHeader(tx) {
		t.Fatal("ParseHeader failed")
	}
	bodyOff := tx.BodyOff
	if !ParseHeader(tx) {
		t.Fatal("second ParseHeader call failed")
	}
	if tx.BodyOff != bodyOff {
		t.Errorf("BodyOff changed on re-parse: %d != %d", tx.BodyOff, bodyOff)
	}
}

func TestAppendFragmentBounded(t *testing.T) {
	tx := &Transaction{}
	big := make([]byte, FragmentSize+50)
	n := tx.AppendFragment(big)
	if n != FragmentSize {
		t.Errorf("AppendFragment took %d bytes, want %d", n, FragmentSize)
	}
	if tx.AppendFragment([]byte{1, 2, 3}) != 0 {
		t.Error("AppendFragment should take nothing once the fragment is full")
	}
	if int(tx.FragLen) != FragmentSize {
		t.Errorf("FragLen = %d, want %d", tx.FragLen, FragmentSize)
	}
}

func TestRecordSnapshot(t *testing.T) {
	tx := newTx(buildRequest(APIKeyProduce, 7, 55, "app", "audit-log"))
	tx.TCPSeq = 12345
	if !ParseHeader(tx) || !ParseRequest(tx) {
		t.Fatal("parse failed")
	}
	r := tx.Record()
	if r.TCPSeq != 12345 {
		t.Errorf("TCPSeq = %d, want 12345", r.TCPSeq)
	}
	if r.APIKey != APIKeyProduce || r.APIVersion != 7 || r.CorrelationID != 55 {
		t.Errorf("header fields = %d/%d/%d", r.APIKey, r.APIVersion, r.CorrelationID)
	}
	if got := r.TopicName(); got != "audit-log" {
		t.Errorf("topic = %q, want audit-log", got)
	}
}
