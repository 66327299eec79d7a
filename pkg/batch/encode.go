// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package batch

import (
	"encoding/binary"
	"fmt"

	"github.com/mbeema/ktap/pkg/kafka"
)

// Pages cross the export channel as one opaque binary record:
//
//	owner u32 | page idx u64 | record count u32 | count * record
//
// Each record is fixed size, little endian:
//
//	saddr_h u64 | saddr_l u64 | daddr_h u64 | daddr_l u64 |
//	sport u16 | dport u16 | netns u32 | pid u32 | metadata u32 |
//	tcp_seq u32 | api_key i16 | api_version i16 | correlation_id i32 |
//	topic_len u16 | topic [80]byte

const (
	pageHeaderSize = 16
	tupleSize      = 48

	// RecordSize is the encoded size of one transaction record.
	RecordSize = tupleSize + 4 + 2 + 2 + 4 + 2 + kafka.TopicNameBufSize
)

// ExportedPage is the decoded form of an exported page, as seen by the
// collector.
type ExportedPage struct {
	Owner   uint32
	Idx     uint64
	Records []kafka.Record
}

// EncodePage serializes a page for export. owner identifies the worker.
func EncodePage(owner uint32, p *Page) []byte {
	n := p.Len()
	buf := make([]byte, pageHeaderSize+n*RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], owner)
	binary.LittleEndian.PutUint64(buf[4:12], p.Idx)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n))

	off := pageHeaderSize
	for i := 0; i < n; i++ {
		encodeRecord(buf[off:off+RecordSize], &p.Records[i])
		off += RecordSize
	}
	return buf
}

// DecodePage parses an exported page. The count and length are cross
// checked so a truncated or corrupt message never causes out-of-bounds
// reads downstream.
func DecodePage(buf []byte) (*ExportedPage, error) {
	if len(buf) < pageHeaderSize {
		return nil, fmt.Errorf("page truncated: %d bytes", len(buf))
	}
	count := binary.LittleEndian.Uint32(buf[12:16])
	if count > PageCapacity {
		return nil, fmt.Errorf("page record count %d exceeds capacity %d", count, PageCapacity)
	}
	want := pageHeaderSize + int(count)*RecordSize
	if len(buf) < want {
		return nil, fmt.Errorf("page truncated: have %d bytes, need %d", len(buf), want)
	}

	out := &ExportedPage{
		Owner:   binary.LittleEndian.Uint32(buf[0:4]),
		Idx:     binary.LittleEndian.Uint64(buf[4:12]),
		Records: make([]kafka.Record, count),
	}
	off := pageHeaderSize
	for i := range out.Records {
		decodeRecord(buf[off:off+RecordSize], &out.Records[i])
		off += RecordSize
	}
	return out, nil
}

func encodeRecord(buf []byte, r *kafka.Record) {
	binary.LittleEndian.PutUint64(buf[0:8], r.Tup.SaddrH)
	binary.LittleEndian.PutUint64(buf[8:16], r.Tup.SaddrL)
	binary.LittleEndian.PutUint64(buf[16:24], r.Tup.DaddrH)
	binary.LittleEndian.PutUint64(buf[24:32], r.Tup.DaddrL)
	binary.LittleEndian.PutUint16(buf[32:34], r.Tup.Sport)
	binary.LittleEndian.PutUint16(buf[34:36], r.Tup.Dport)
	binary.LittleEndian.PutUint32(buf[36:40], r.Tup.NetNS)
	binary.LittleEndian.PutUint32(buf[40:44], r.Tup.PID)
	binary.LittleEndian.PutUint32(buf[44:48], r.Tup.Metadata)
	binary.LittleEndian.PutUint32(buf[48:52], r.TCPSeq)
	binary.LittleEndian.PutUint16(buf[52:54], uint16(r.APIKey))
	binary.LittleEndian.PutUint16(buf[54:56], uint16(r.APIVersion))
	binary.LittleEndian.PutUint32(buf[56:60], uint32(r.CorrelationID))
	binary.LittleEndian.PutUint16(buf[60:62], uint16(r.TopicLen))
	copy(buf[62:62+kafka.TopicNameBufSize], r.Topic[:])
}

func decodeRecord(buf []byte, r *kafka.Record) {
	r.Tup.SaddrH = binary.LittleEndian.Uint64(buf[0:8])
	r.Tup.SaddrL = binary.LittleEndian.Uint64(buf[8:16])
	r.Tup.DaddrH = binary.LittleEndian.Uint64(buf[16:24])
	r.Tup.DaddrL = binary.LittleEndian.Uint64(buf[24:32])
	r.Tup.Sport = binary.LittleEndian.Uint16(buf[32:34])
	r.Tup.Dport = binary.LittleEndian.Uint16(buf[34:36])
	r.Tup.NetNS = binary.LittleEndian.Uint32(buf[36:40])
	r.Tup.PID = binary.LittleEndian.Uint32(buf[40:44])
	r.Tup.Metadata = binary.LittleEndian.Uint32(buf[44:48])
	r.TCPSeq = binary.LittleEndian.Uint32(buf[48:52])
	r.APIKey = int16(binary.LittleEndian.Uint16(buf[52:54]))
	r.APIVersion = int16(binary.LittleEndian.Uint16(buf[54:56]))
	r.CorrelationID = int32(binary.LittleEndian.Uint32(buf[56:60]))
	topicLen := binary.LittleEndian.Uint16(buf[60:62])
	if topicLen > kafka.TopicNameBufSize {
		topicLen = kafka.TopicNameBufSize
	}
	r.TopicLen = uint8(topicLen)
	copy(r.Topic[:], buf[62:62+kafka.TopicNameBufSize])
}
