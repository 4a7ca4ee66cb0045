package rft

import "time"

// unackedCapacity bounds the retransmit queue at roughly twice the window
// divided by the smallest realistic segment, plus slack, per the Design
// Notes' "stable capacity = 2*WND/MSS + 1" contract.
func unackedCapacity(window int) int {
	return 2*(window/MSS+1) + 1
}

// sender is the sender-side state of spec.md §3 ("Sender state"): the next
// sequence number to assign, the oldest still-unacknowledged sequence
// number, the fixed window, and the bytes currently outstanding.
type sender struct {
	nextSeq uint16
	wndCurr int
	window  int
	unacked *retransmitQueue
}

func newSender(initialSeq uint16, window int, rto time.Duration) *sender {
	return &sender{
		nextSeq: initialSeq,
		window:  window,
		unacked: newRetransmitQueue(unackedCapacity(window), rto),
	}
}

func (s *sender) minUnacked() uint16 { return s.unacked.MinUnacked() }

// windowReady reports whether a new data packet of length l may be admitted
// right now, per spec.md §4.5's admission rule.
func (s *sender) windowReady(l int) bool {
	if s.unacked.IsFull() {
		return false
	}
	min := s.minUnacked()
	if min == noUnacked {
		return l <= s.window
	}
	return ForwardDistance(min, s.nextSeq)+l <= s.window
}

// send transmits pkt and, unless it is a pure ACK, queues it for
// retransmission and advances sender bookkeeping, implementing spec.md
// §4.5's send(). transmitFn performs the actual datagram write.
func (s *sender) send(now time.Time, pkt *Packet, transmitFn func(*Packet) error) error {
	if isPureACK(pkt.Header.Flags) {
		return transmitFn(pkt)
	}
	pkt.Header.Len = uint16(HeaderSize + len(pkt.Payload))
	assertf(!s.unacked.IsFull(), "rft: unacked buffer full when sending seq=%d", pkt.Header.Seq)
	if err := s.unacked.Push(now, pkt); err != nil {
		return err
	}
	s.wndCurr += int(pkt.Header.Len)
	s.nextSeq = Add(pkt.Header.Seq, pkt.Header.PayloadLen())
	// On send failure the packet remains queued for retransmission rather
	// than rolled back, per spec.md §4.5: rolling back would complicate the
	// sequence-space invariants this sender otherwise maintains.
	return transmitFn(pkt)
}

// ack applies an ACK for seq, releasing the corresponding unacked entry and
// unwinding wndCurr. It is a no-op (idempotent) for an unknown or
// already-acked seq.
func (s *sender) ack(seq uint16) {
	length, found := s.unacked.Ack(seq)
	if !found {
		return
	}
	s.wndCurr -= length
	if s.wndCurr < 0 {
		s.wndCurr = 0
	}
}

// resend runs the retransmit sweep for this sender's outstanding packets.
func (s *sender) resend(now time.Time, resendFn func(*Packet)) {
	s.unacked.Resend(now, resendFn)
}
