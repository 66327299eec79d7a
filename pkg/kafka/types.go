// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package kafka

import (
	"github.com/mbeema/ktap/pkg/tuple"
)

// Supported request API keys.
const (
	APIKeyProduce int16 = 0
	APIKeyFetch   int16 = 1
)

// Supported API version ranges. Produce v0 is rejected: a zeroed header
// (api_key=0, api_version=0) is indistinguishable from garbage and was a
// reliable source of false positives.
const (
	MinSupportedProduceVersion int16 = 1
	MaxSupportedProduceVersion int16 = 8
	MaxSupportedFetchVersion   int16 = 11
)

const (
	// FragmentSize bounds how much of a request we ever capture. Topic
	// names live near the front of both produce and fetch requests, so a
	// short prefix is enough.
	FragmentSize = 160

	// TopicNameBufSize bounds the extracted topic name.
	TopicNameBufSize = 80

	// topicNameMaxAllowed is the protocol-level topic name length cap.
	topicNameMaxAllowed = 255

	// How many leading characters of variable-length strings get a
	// charset check. Checking a bounded prefix keeps the per-segment
	// work constant.
	clientIDCharsToValidate  = 30
	topicNameCharsToValidate = 16

	// requestHeaderSize covers message_size(4) + api_key(2) +
	// api_version(2) + correlation_id(4) + client_id length(2).
	requestHeaderSize = 14
)

// Transaction is the in-flight parse state for one flow. It accumulates
// request bytes across segments and carries the fields extracted so far.
// One Transaction exists per tuple; it is mutated in place across
// segments and retired when the parse completes.
type Transaction struct {
	Tup    tuple.ConnTuple
	TCPSeq uint32

	// LastSeen (unix nanos) drives the external TTL sweep.
	LastSeen int64

	// Fragment holds the captured request prefix; FragLen is how much of
	// it is valid.
	Fragment [FragmentSize]byte
	FragLen  uint16

	// Parse progress markers.
	HeaderDone bool
	BodyOff    uint16

	// Fields extracted by the header stage.
	MessageSize   int32
	APIKey        int16
	APIVersion    int16
	CorrelationID int32

	// Fields extracted by the body stage.
	Topic    [TopicNameBufSize]byte
	TopicLen uint8
}

// AppendFragment copies payload bytes into the fragment buffer, bounded
// by the remaining capacity. Returns how many bytes were taken.
func (t *Transaction) AppendFragment(p []byte) int {
	n := copy(t.Fragment[t.FragLen:], p)
	t.FragLen += uint16(n)
	return n
}

// TopicName returns the extracted topic name as a string.
func (t *Transaction) TopicName() string {
	return string(t.Topic[:t.TopicLen])
}

// Record is the fixed-size completed-transaction record handed to the
// batch pipeline and emitted to the collector.
type Record struct {
	Tup           tuple.ConnTuple
	TCPSeq        uint32
	APIKey        int16
	APIVersion    int16
	CorrelationID int32
	TopicLen      uint8
	Topic         [TopicNameBufSize]byte
}

// Record snapshots the completed transaction.
func (t *Transaction) Record() Record {
	return Record{
		Tup:           t.Tup,
		TCPSeq:        t.TCPSeq,
		APIKey:        t.APIKey,
		APIVersion:    t.APIVersion,
		CorrelationID: t.CorrelationID,
		TopicLen:      t.TopicLen,
		Topic:         t.Topic,
	}
}

// TopicName returns the record's topic name as a string.
func (r *Record) TopicName() string {
	return string(r.Topic[:r.TopicLen])
}
