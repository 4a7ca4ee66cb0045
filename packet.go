package rft

import (
	"encoding/binary"
	"fmt"
)

// Wire limits, fixed by the protocol (not negotiated).
const (
	// MaxPacket is the largest datagram the protocol will ever put on the
	// wire, header included.
	MaxPacket = 1024
	// HeaderSize is the size, in bytes, of the fixed packet header.
	HeaderSize = 8
	// reqTerminatorReserve is the one payload byte reserved for the NUL
	// terminator of a file-request payload. It is subtracted from every
	// packet's usable payload, data or request alike, so that sender and
	// receiver agree on len accounting regardless of packet type.
	reqTerminatorReserve = 1
	// MSS is the maximum payload a single data packet may carry, and the
	// longest file name a request packet may carry (its NUL terminator
	// takes the reserved byte).
	MSS = MaxPacket - HeaderSize - reqTerminatorReserve

	// MaxSeq is the size of the modular sequence space, in bytes.
	MaxSeq = 30720
	// Window is the fixed sender-side cap on bytes outstanding.
	Window = 5120
)

// Flags is a bitfield over the packet's role markers.
type Flags uint16

const (
	FlagSYN   Flags = 0x01
	FlagFIN   Flags = 0x02
	FlagACK   Flags = 0x04
	FlagRQST  Flags = 0x08
	FlagFIRST Flags = 0x10
	FlagLAST  Flags = 0x20
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "DATA"
	}
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagSYN, "SYN"}, {FlagFIN, "FIN"}, {FlagACK, "ACK"},
		{FlagRQST, "RQST"}, {FlagFIRST, "FIRST"}, {FlagLAST, "LAST"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// Header is the fixed 8-byte packet header, all fields big-endian on the
// wire. Reserved must be zero; it exists purely as wire padding.
type Header struct {
	Seq      uint16
	Reserved uint16
	Len      uint16
	Flags    Flags
}

// Packet is a decoded datagram: its header plus whatever payload bytes
// followed it (at most MSS of them).
type Packet struct {
	Header
	Payload []byte
}

// PayloadLen returns the number of payload bytes this packet's header
// claims to carry (Len includes the header).
func (h Header) PayloadLen() int {
	return int(h.Len) - HeaderSize
}

// Encode serializes the packet (header + payload) into a freshly allocated
// buffer sized exactly to h.Len.
func (p *Packet) Encode() ([]byte, error) {
	total := HeaderSize + len(p.Payload)
	if total > MaxPacket {
		return nil, fmt.Errorf("rft: packet of %d bytes exceeds MaxPacket (%d)", total, MaxPacket)
	}
	p.Header.Len = uint16(total)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], p.Header.Seq)
	binary.BigEndian.PutUint16(buf[2:4], 0) // Reserved cleared on send
	binary.BigEndian.PutUint16(buf[4:6], p.Header.Len)
	binary.BigEndian.PutUint16(buf[6:8], uint16(p.Header.Flags))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Decode parses a received datagram into a Packet. The Reserved field is
// ignored, per spec.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("rft: datagram of %d bytes is shorter than header (%d)", len(buf), HeaderSize)
	}
	h := Header{
		Seq:      binary.BigEndian.Uint16(buf[0:2]),
		Reserved: binary.BigEndian.Uint16(buf[2:4]),
		Len:      binary.BigEndian.Uint16(buf[4:6]),
		Flags:    Flags(binary.BigEndian.Uint16(buf[6:8])),
	}
	if int(h.Len) != len(buf) {
		return nil, fmt.Errorf("rft: header len %d does not match datagram size %d", h.Len, len(buf))
	}
	p := &Packet{Header: h}
	if n := h.PayloadLen(); n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, buf[HeaderSize:])
	}
	return p, nil
}

// isPureACK reports whether p carries only ACK (optionally with FIN) and no
// other flags — the send engine never queues these for retransmission.
func isPureACK(f Flags) bool {
	return f == FlagACK || f == FlagACK|FlagFIN
}
