// Package sacn implements the E1.31 (streaming ACN) data packet: encode for
// the output drivers and decode for the input listener. Only the data packet
// (root vector VECTOR_ROOT_E131_DATA) is handled; universe discovery and
// synchronization packets are not part of this pipeline.
package sacn

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

// Port is the IANA-registered sACN UDP port.
const Port = 5568

const (
	rootVectorData    = 0x00000004
	framingVectorData = 0x00000002
	dmpVectorData     = 0x02

	dmpAddrType  = 0xa1
	defaultPrio  = 100
	sourceNameLn = 64

	// Fixed layer offsets within a data packet.
	framingOff = 38
	dmpOff     = 115
	dataOff    = 125 // start code + slots begin here

	minPacket = dataOff + 1
	maxPacket = dataOff + 1 + dmx.ChannelCount
)

var acnID = [12]byte{'A', 'S', 'C', '-', 'E', '1', '.', '1', '7', 0, 0, 0}

var (
	ErrShortPacket  = errors.New("sacn: packet too short")
	ErrNotSACN      = errors.New("sacn: missing ACN packet identifier")
	ErrWrongVector  = errors.New("sacn: not a data packet")
	ErrBadStartCode = errors.New("sacn: unsupported start code")
)

// Packet is a decoded E1.31 data packet.
type Packet struct {
	CID        [16]byte
	SourceName string
	Priority   uint8
	Sequence   uint8
	Options    uint8
	Universe   uint16
	Data       []byte
}

// flagsLength encodes the 0x7 flags nibble plus a 12-bit PDU length.
func flagsLength(n int) uint16 {
	return 0x7000 | uint16(n)&0x0fff
}

// Encode builds the wire form of a data packet carrying up to 512 slots.
func Encode(cid [16]byte, sourceName string, priority, sequence uint8, universe uint16, data []byte) []byte {
	if len(data) > dmx.ChannelCount {
		data = data[:dmx.ChannelCount]
	}
	if priority == 0 {
		priority = defaultPrio
	}
	total := dataOff + 1 + len(data)
	b := make([]byte, total)

	// Root layer.
	binary.BigEndian.PutUint16(b[0:], 0x0010) // preamble size
	binary.BigEndian.PutUint16(b[2:], 0x0000) // post-amble size
	copy(b[4:16], acnID[:])
	binary.BigEndian.PutUint16(b[16:], flagsLength(total-16))
	binary.BigEndian.PutUint32(b[18:], rootVectorData)
	copy(b[22:38], cid[:])

	// Framing layer.
	binary.BigEndian.PutUint16(b[framingOff:], flagsLength(total-framingOff))
	binary.BigEndian.PutUint32(b[framingOff+2:], framingVectorData)
	copy(b[framingOff+6:framingOff+6+sourceNameLn], sourceName)
	b[framingOff+70] = priority
	// Sync address stays zero: no universe synchronization.
	b[framingOff+73] = sequence
	b[framingOff+74] = 0 // options
	binary.BigEndian.PutUint16(b[framingOff+75:], universe)

	// DMP layer.
	binary.BigEndian.PutUint16(b[dmpOff:], flagsLength(total-dmpOff))
	b[dmpOff+2] = dmpVectorData
	b[dmpOff+3] = dmpAddrType
	binary.BigEndian.PutUint16(b[dmpOff+4:], 0x0000) // first property address
	binary.BigEndian.PutUint16(b[dmpOff+6:], 0x0001) // address increment
	binary.BigEndian.PutUint16(b[dmpOff+8:], uint16(1+len(data)))
	b[dataOff] = 0x00 // DMX start code
	copy(b[dataOff+1:], data)

	return b
}

// Decode parses a data packet. Anything that is not a well-formed E1.31
// data packet with a null start code is rejected.
func Decode(b []byte) (Packet, error) {
	var p Packet
	if len(b) < minPacket || len(b) > maxPacket {
		return p, ErrShortPacket
	}
	if [12]byte(b[4:16]) != acnID {
		return p, ErrNotSACN
	}
	if binary.BigEndian.Uint32(b[18:]) != rootVectorData {
		return p, ErrWrongVector
	}
	if binary.BigEndian.Uint32(b[framingOff+2:]) != framingVectorData {
		return p, ErrWrongVector
	}
	if b[dmpOff+2] != dmpVectorData || b[dmpOff+3] != dmpAddrType {
		return p, ErrWrongVector
	}
	if b[dataOff] != 0x00 {
		return p, ErrBadStartCode
	}

	count := int(binary.BigEndian.Uint16(b[dmpOff+8:]))
	if count < 1 || dataOff+count > len(b) {
		return p, fmt.Errorf("sacn: property count %d exceeds packet size %d", count, len(b))
	}

	copy(p.CID[:], b[22:38])
	name := b[framingOff+6 : framingOff+6+sourceNameLn]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	p.SourceName = string(name)
	p.Priority = b[framingOff+70]
	p.Sequence = b[framingOff+73]
	p.Options = b[framingOff+74]
	p.Universe = binary.BigEndian.Uint16(b[framingOff+75:])
	p.Data = append([]byte(nil), b[dataOff+1:dataOff+count]...)
	return p, nil
}

// MulticastGroup returns the E1.31 multicast group for a universe
// (239.255.hi.lo).
func MulticastGroup(universe uint16) net.IP {
	return net.IPv4(239, 255, byte(universe>>8), byte(universe))
}
