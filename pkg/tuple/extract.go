// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package tuple

import "sync/atomic"

// Address families, mirroring AF_INET / AF_INET6.
const (
	FamilyInet  uint16 = 2
	FamilyInet6 uint16 = 10
)

// SockSnapshot is a point-in-time copy of the addressing fields of a raw
// connection handle. Depending on the connection lifecycle stage the
// kernel exposes the same value through different fields, so each value
// has a primary and a secondary source; extraction takes the first
// nonzero one.
type SockSnapshot struct {
	Family uint16
	NetNS  uint32

	// IPv4 addresses, raw network-order bytes.
	RcvSaddr  [4]byte // primary source address
	InetSaddr [4]byte // secondary source address
	Daddr     [4]byte

	// IPv6 addresses, raw network-order bytes.
	RcvSaddr6 [16]byte
	Daddr6    [16]byte

	SkNum     uint16 // source port, host byte order
	InetSport uint16 // source port fallback, network byte order
	Dport     uint16 // destination port, network byte order
}

// RouteV4 describes an outbound IPv4 route for sends that have no
// connection object yet. Ports are in network byte order.
type RouteV4 struct {
	Saddr [4]byte
	Daddr [4]byte
	Sport uint16
	Dport uint16
}

// RouteV6 is the IPv6 form of RouteV4.
type RouteV6 struct {
	Saddr [16]byte
	Daddr [16]byte
	Sport uint16
	Dport uint16
}

// Extractor fills ConnTuples from connection handles or route
// descriptors. The IPv6 toggle is resolved from configuration before
// inspection starts and may be flipped on reload.
type Extractor struct {
	ipv6 atomic.Bool
}

// NewExtractor returns an Extractor with the IPv6 toggle set.
func NewExtractor(ipv6Enabled bool) *Extractor {
	e := &Extractor{}
	e.ipv6.Store(ipv6Enabled)
	return e
}

// SetIPv6Enabled flips the IPv6 inspection toggle.
func (e *Extractor) SetIPv6Enabled(v bool) { e.ipv6.Store(v) }

// IPv6Enabled reports the current toggle state.
func (e *Extractor) IPv6Enabled() bool { return e.ipv6.Load() }

// ReadTuple zeroes t and resolves it from a socket snapshot.
func (e *Extractor) ReadTuple(t *ConnTuple, sk *SockSnapshot, pidTgid uint64, typ uint32) bool {
	*t = ConnTuple{}
	return e.ReadTuplePartial(t, sk, pidTgid, typ)
}

// ReadTuplePartial resolves unset fields of t from a socket snapshot.
// Fields that already hold a nonzero value are never overwritten, since
// the caller may have pre-filled them from an earlier lifecycle stage.
// Returns false when any required field is still zero afterwards.
func (e *Extractor) ReadTuplePartial(t *ConnTuple, sk *SockSnapshot, pidTgid uint64, typ uint32) bool {
	t.PID = uint32(pidTgid >> 32)
	t.Metadata |= typ

	// Namespace first: it is available even for unconnected sends.
	if t.NetNS == 0 {
		t.NetNS = sk.NetNS
	}

	switch sk.Family {
	case FamilyInet:
		t.Metadata |= ConnV4
		if t.SaddrL == 0 {
			t.SaddrL = packAddr4(sk.RcvSaddr)
		}
		if t.SaddrL == 0 {
			t.SaddrL = packAddr4(sk.InetSaddr)
		}
		if t.DaddrL == 0 {
			t.DaddrL = packAddr4(sk.Daddr)
		}
		if t.SaddrL == 0 || t.DaddrL == 0 {
			return false
		}

	case FamilyInet6:
		if !e.ipv6.Load() {
			return false
		}
		if t.SaddrH == 0 && t.SaddrL == 0 {
			t.SaddrH, t.SaddrL = packAddr16(sk.RcvSaddr6)
		}
		if t.DaddrH == 0 && t.DaddrL == 0 {
			t.DaddrH, t.DaddrL = packAddr16(sk.Daddr6)
		}
		if t.SaddrH == 0 && t.SaddrL == 0 {
			return false
		}
		if t.DaddrH == 0 && t.DaddrL == 0 {
			return false
		}
		t.canonicalizeMapped()

	default:
		return false
	}

	if t.Sport == 0 {
		t.Sport = sk.SkNum
	}
	if t.Sport == 0 {
		t.Sport = ntohs(sk.InetSport)
	}
	if t.Dport == 0 {
		t.Dport = ntohs(sk.Dport)
	}
	if t.Sport == 0 || t.Dport == 0 {
		return false
	}

	return true
}

// FromRouteV4 resolves a tuple from an outbound IPv4 route descriptor.
func (e *Extractor) FromRouteV4(t *ConnTuple, r *RouteV4, pidTgid uint64, typ uint32) bool {
	t.PID = uint32(pidTgid >> 32)
	t.Metadata |= typ | ConnV4

	t.SaddrL = packAddr4(r.Saddr)
	t.DaddrL = packAddr4(r.Daddr)
	if t.SaddrL == 0 || t.DaddrL == 0 {
		return false
	}

	if r.Sport == 0 || r.Dport == 0 {
		return false
	}
	t.Sport = ntohs(r.Sport)
	t.Dport = ntohs(r.Dport)
	return true
}

// FromRouteV6 resolves a tuple from an outbound IPv6 route descriptor.
func (e *Extractor) FromRouteV6(t *ConnTuple, r *RouteV6, pidTgid uint64, typ uint32) bool {
	if !e.ipv6.Load() {
		return false
	}
	t.PID = uint32(pidTgid >> 32)
	t.Metadata |= typ

	t.SaddrH, t.SaddrL = packAddr16(r.Saddr)
	t.DaddrH, t.DaddrL = packAddr16(r.Daddr)
	if t.SaddrH == 0 && t.SaddrL == 0 {
		return false
	}
	if t.DaddrH == 0 && t.DaddrL == 0 {
		return false
	}
	t.canonicalizeMapped()

	if r.Sport == 0 || r.Dport == 0 {
		return false
	}
	t.Sport = ntohs(r.Sport)
	t.Dport = ntohs(r.Dport)
	return true
}

// canonicalizeMapped collapses an IPv4-mapped IPv6 pair to the pure IPv4
// form: upper halves cleared, the embedded IPv4 bytes kept in the low 32
// bits, and the V4 flag set instead of V6. Both endpoints must match the
// mapped pattern.
func (t *ConnTuple) canonicalizeMapped() {
	if isIPv4Mapped(t.SaddrH, t.SaddrL) && isIPv4Mapped(t.DaddrH, t.DaddrL) {
		t.Metadata |= ConnV4
		t.SaddrH = 0
		t.DaddrH = 0
		t.SaddrL >>= 32
		t.DaddrL >>= 32
	} else {
		t.Metadata |= ConnV6
	}
}
