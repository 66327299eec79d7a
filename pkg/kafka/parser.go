// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package kafka

import "encoding/binary"

// The parser runs in two stages over the captured fragment. Both stages
// are pure functions of the accumulated fragment: on failure they leave
// the transaction state untouched so a later segment can extend the
// fragment and retry. Every read is bounds-checked against both the
// declared message length and the bytes actually captured; malformed or
// truncated input must never cause a read past the fragment.

// ParseHeader validates the fixed request header and records its fields.
// Returns false while the fragment does not yet hold a complete, valid
// header.
func ParseHeader(tx *Transaction) bool {
	if tx.HeaderDone {
		return true
	}
	frag := tx.Fragment[:tx.FragLen]
	if len(frag) < requestHeaderSize {
		return false
	}

	msgSize := int32(binary.BigEndian.Uint32(frag[0:4]))
	if msgSize < requestHeaderSize-4 {
		return false
	}

	apiKey := int16(binary.BigEndian.Uint16(frag[4:6]))
	apiVersion := int16(binary.BigEndian.Uint16(frag[6:8]))
	switch apiKey {
	case APIKeyProduce:
		if apiVersion < MinSupportedProduceVersion || apiVersion > MaxSupportedProduceVersion {
			return false
		}
	case APIKeyFetch:
		if apiVersion < 0 || apiVersion > MaxSupportedFetchVersion {
			return false
		}
	default:
		return false
	}

	correlationID := int32(binary.BigEndian.Uint32(frag[8:12]))
	if correlationID < 0 {
		return false
	}

	clientIDSize := int16(binary.BigEndian.Uint16(frag[12:14]))
	if clientIDSize < -1 {
		return false
	}

	// Validate a bounded prefix of the client id against the printable
	// charset; stop early at the edge of what was captured.
	limit := declaredLimit(len(frag), msgSize)
	if clientIDSize > 0 {
		for i := 0; i < int(clientIDSize) && i < clientIDCharsToValidate; i++ {
			off := requestHeaderSize + i
			if off >= limit {
				break
			}
			if !validNameChar(frag[off]) {
				return false
			}
		}
	}

	tx.MessageSize = msgSize
	tx.APIKey = apiKey
	tx.APIVersion = apiVersion
	tx.CorrelationID = correlationID
	bodyOff := requestHeaderSize
	if clientIDSize > 0 {
		bodyOff += int(clientIDSize)
	}
	tx.BodyOff = uint16(min(bodyOff, FragmentSize))
	tx.HeaderDone = true
	return true
}

// ParseRequest decodes the API-key specific body fields and extracts the
// first topic name. Returns false while the captured fragment does not
// reach far enough to complete the parse.
func ParseRequest(tx *Transaction) bool {
	if !tx.HeaderDone {
		return false
	}
	frag := tx.Fragment[:tx.FragLen]
	limit := declaredLimit(len(frag), tx.MessageSize)
	off := int(tx.BodyOff)

	switch tx.APIKey {
	case APIKeyProduce:
		if tx.APIVersion >= 3 {
			// Nullable transactional id: s16 length, -1 when absent.
			tidLen, ok := readInt16(frag, off, limit)
			if !ok {
				return false
			}
			off += 2
			if tidLen > 0 {
				off += int(tidLen)
			}
		}
		// acks(2) + timeout_ms(4) + topic array count(4).
		off += 10

	case APIKeyFetch:
		// replica_id(4) + max_wait_ms(4) + min_bytes(4).
		off += 12
		if tx.APIVersion >= 3 {
			off += 4 // max_bytes
		}
		if tx.APIVersion >= 4 {
			off++ // isolation_level
		}
		if tx.APIVersion >= 7 {
			off += 8 // session_id + session_epoch
		}
		off += 4 // topic array count

	default:
		return false
	}

	topicLen, ok := readInt16(frag, off, limit)
	if !ok {
		return false
	}
	off += 2
	if topicLen <= 0 || topicLen > topicNameMaxAllowed {
		return false
	}

	n := int(topicLen)
	if n > TopicNameBufSize {
		n = TopicNameBufSize
	}
	if off+n > limit {
		return false
	}
	for i := 0; i < n && i < topicNameCharsToValidate; i++ {
		if !validNameChar(frag[off+i]) {
			return false
		}
	}

	copy(tx.Topic[:], frag[off:off+n])
	tx.TopicLen = uint8(n)
	return true
}

// declaredLimit is the read bound: no read may pass either the captured
// fragment or the protocol-declared total message length.
func declaredLimit(fragLen int, msgSize int32) int {
	declared := int(msgSize) + 4
	if declared < fragLen {
		return declared
	}
	return fragLen
}

func readInt16(frag []byte, off, limit int) (int16, bool) {
	if off < 0 || off+2 > limit || off+2 > len(frag) {
		return 0, false
	}
	return int16(binary.BigEndian.Uint16(frag[off:])), true
}

// validNameChar matches the charset Kafka allows for client ids and
// topic names.
func validNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '-':
		return true
	}
	return false
}
