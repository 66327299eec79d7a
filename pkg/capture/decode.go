// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package capture

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/mbeema/ktap/pkg/tuple"
)

// decoder turns raw frames into Segments. One decoder per capture
// goroutine; the layer structs are reused across packets so the hot path
// does not allocate.
type decoder struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	lo      layers.Loopback
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	decoded []gopacket.LayerType
	snapLen int
	netns   uint32
}

func newDecoder(first gopacket.LayerType, snapLen int, netns uint32) *decoder {
	d := &decoder{snapLen: snapLen, netns: netns}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.eth, &d.lo, &d.ip4, &d.ip6, &d.tcp)
	d.parser.IgnoreUnsupported = true
	return d
}

// decode fills seg from one raw frame. Returns false for anything that
// is not a plain TCP segment.
func (d *decoder) decode(data []byte, ts time.Time, seg *Segment) bool {
	d.decoded = d.decoded[:0]
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return false
	}

	var haveIP, haveTCP bool
	seg.Sock = tuple.SockSnapshot{NetNS: d.netns}
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			seg.Sock.Family = tuple.FamilyInet
			copy(seg.Sock.RcvSaddr[:], d.ip4.SrcIP.To4())
			copy(seg.Sock.Daddr[:], d.ip4.DstIP.To4())
			haveIP = true
		case layers.LayerTypeIPv6:
			seg.Sock.Family = tuple.FamilyInet6
			copy(seg.Sock.RcvSaddr6[:], d.ip6.SrcIP.To16())
			copy(seg.Sock.Daddr6[:], d.ip6.DstIP.To16())
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return false
	}

	seg.Sock.SkNum = uint16(d.tcp.SrcPort)
	seg.Sock.Dport = htons(uint16(d.tcp.DstPort))

	seg.TCPFlags = 0
	if d.tcp.FIN {
		seg.TCPFlags |= TCPFIN
	}
	if d.tcp.SYN {
		seg.TCPFlags |= TCPSYN
	}
	if d.tcp.RST {
		seg.TCPFlags |= TCPRST
	}
	if d.tcp.PSH {
		seg.TCPFlags |= TCPPSH
	}
	if d.tcp.ACK {
		seg.TCPFlags |= TCPACK
	}
	seg.TCPSeq = d.tcp.Seq

	payload := d.tcp.Payload
	if len(payload) > d.snapLen {
		payload = payload[:d.snapLen]
	}
	seg.Payload = payload
	seg.PIDTgid = 0
	seg.Timestamp = ts
	return true
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
