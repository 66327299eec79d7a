// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package tuple

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Metadata mask bits for ConnTuple.Metadata.
const (
	ConnTCP uint32 = 1 << 0
	ConnUDP uint32 = 1 << 1
	ConnV4  uint32 = 1 << 2
	ConnV6  uint32 = 1 << 3
)

// ConnTuple is the canonical flow identifier. Addresses are stored as two
// 64-bit halves holding the raw network-order address bytes packed little
// endian; for IPv4 only the low 32 bits of the low half are used.
//
// The struct is comparable and is used directly as a map key.
type ConnTuple struct {
	SaddrH   uint64
	SaddrL   uint64
	DaddrH   uint64
	DaddrL   uint64
	Sport    uint16
	Dport    uint16
	NetNS    uint32
	PID      uint32
	Metadata uint32
}

// IsTCP reports whether the tuple describes a TCP flow.
func (t *ConnTuple) IsTCP() bool {
	return t.Metadata&ConnTCP != 0
}

// IsV4 reports whether the tuple was resolved (or canonicalized) to IPv4.
func (t *ConnTuple) IsV4() bool {
	return t.Metadata&ConnV4 != 0
}

// Resolved reports whether both addresses and both ports are set.
func (t *ConnTuple) Resolved() bool {
	return (t.SaddrH != 0 || t.SaddrL != 0) &&
		(t.DaddrH != 0 || t.DaddrL != 0) &&
		t.Sport != 0 && t.Dport != 0
}

// SrcAddr reconstructs the source address.
func (t *ConnTuple) SrcAddr() netip.Addr {
	return unpackAddr(t.SaddrH, t.SaddrL, t.IsV4())
}

// DstAddr reconstructs the destination address.
func (t *ConnTuple) DstAddr() netip.Addr {
	return unpackAddr(t.DaddrH, t.DaddrL, t.IsV4())
}

func (t *ConnTuple) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d (pid=%d ns=%d meta=%#x)",
		t.SrcAddr(), t.Sport, t.DstAddr(), t.Dport, t.PID, t.NetNS, t.Metadata)
}

// isIPv4Mapped reports whether the packed address follows the
// ::ffff:a.b.c.d pattern. With network-order bytes packed little endian
// the 0000:ffff marker lands in the low 32 bits of the low half.
func isIPv4Mapped(h, l uint64) bool {
	return h == 0 && uint32(l) == 0xffff0000
}

func packAddr4(b [4]byte) uint64 {
	return uint64(binary.LittleEndian.Uint32(b[:]))
}

func packAddr16(b [16]byte) (h, l uint64) {
	h = binary.LittleEndian.Uint64(b[0:8])
	l = binary.LittleEndian.Uint64(b[8:16])
	return h, l
}

func unpackAddr(h, l uint64, v4 bool) netip.Addr {
	if v4 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(l))
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], h)
	binary.LittleEndian.PutUint64(b[8:16], l)
	return netip.AddrFrom16(b)
}

func ntohs(v uint16) uint16 {
	return v<<8 | v>>8
}
