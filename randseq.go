package rft

import (
	"crypto/rand"
	"encoding/binary"
)

// randomSeq draws an initial sequence number uniformly from [0, MaxSeq), per
// spec.md §4.8. Grounded on the teacher's randomUint32 (utp_utils.go),
// adapted to the protocol's 16-bit modular space.
func randomSeq() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("rft: can't read from random source: " + err.Error())
	}
	return binary.BigEndian.Uint16(buf[:]) % MaxSeq
}
